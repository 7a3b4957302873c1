package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/metrics"
	"github.com/Bop4yH/wallet/pkg/models"
)

// Cancel reverses a COMPLETED transfer created within the cancellation window.
// The recipient gives the amount back and the sender is refunded amount plus fee.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	t, err := s.cancel(ctx, id)
	if err != nil {
		metrics.CancellationsTotal.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}
	metrics.CancellationsTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("transfer cancelled",
		zap.String("transfer_id", t.ID.String()),
		zap.String("refunded", t.Amount.Add(t.Fee).StringFixed(models.MoneyScale)))
	return t, nil
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	t, err := s.transfers.LockByID(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if t.Status == models.TransferStatusCancelled {
		tx.Rollback()
		return nil, errors.StateConflict.Explain("transfer already cancelled")
	}
	if s.clock.Now().After(t.CreatedAt.Add(s.policy.CancelWindow)) {
		tx.Rollback()
		return nil, errors.StateConflict.Explain("%d minutes passed, can't cancel", int(s.policy.CancelWindow.Minutes()))
	}

	pair, err := s.locks.RelockPair(ctx, tx, t.FromAccountID, t.ToAccountID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if pair.To.Balance.LessThan(t.Amount) {
		tx.Rollback()
		return nil, errors.StateConflict.Explain("recipient has insufficient funds")
	}

	pair.To.Balance = pair.To.Balance.Sub(t.Amount)
	pair.From.Balance = pair.From.Balance.Add(t.Amount.Add(t.Fee))
	if err := s.balances.SaveBalance(ctx, tx, pair.To); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.balances.SaveBalance(ctx, tx, pair.From); err != nil {
		tx.Rollback()
		return nil, err
	}

	t.Status = models.TransferStatusCancelled
	if err := s.transfers.UpdateStatus(ctx, tx, t); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t, nil
}
