// Package transfer moves money between accounts and reverses recent transfers.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bop4yH/wallet/internal/database"
	"github.com/Bop4yH/wallet/internal/locking"
	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/metrics"
	"github.com/Bop4yH/wallet/pkg/models"
)

const maxIdempotencyKeyLen = 128

// TransferService defines money movement operations
type TransferService interface {
	Transfer(ctx context.Context, from, to locking.AccountRef, amount decimal.Decimal, idempotencyKey string) (*models.Transfer, error)
	TransferByNames(ctx context.Context, fromName, toName, currency string, amount decimal.Decimal, idempotencyKey string) (*models.Transfer, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	CountCompleted(ctx context.Context) (int64, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
}

// BalanceWriter persists the balance of an account locked in tx.
type BalanceWriter interface {
	SaveBalance(ctx context.Context, tx *gorm.DB, acc *models.Account) error
}

// EventPublisher receives completion events after the transfer has committed.
// Implementations must not block the caller.
type EventPublisher interface {
	PublishTransferCompleted(event messaging.TransferCompletedEvent)
}

type noopPublisher struct{}

func (noopPublisher) PublishTransferCompleted(messaging.TransferCompletedEvent) {}

// Service implements TransferService
type Service struct {
	db        *gorm.DB
	balances  BalanceWriter
	transfers *Repository
	locks     *locking.Coordinator
	publisher EventPublisher
	policy    Policy
	clock     Clock
	logger    *zap.Logger
}

var _ TransferService = (*Service)(nil)

// NewService creates a transfer service. A nil publisher drops events and a nil clock uses SystemClock.
func NewService(
	db *gorm.DB,
	balances BalanceWriter,
	locks *locking.Coordinator,
	publisher EventPublisher,
	policy Policy,
	clock Clock,
	logger *zap.Logger,
) *Service {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Service{
		db:        db,
		balances:  balances,
		transfers: NewRepository(db),
		locks:     locks,
		publisher: publisher,
		policy:    policy,
		clock:     clock,
		logger:    logger.Named("transfer"),
	}
}

// Transfer moves amount from one account to another, charging the sender a fee
// on top. Both accounts are locked for the duration of the database transaction.
// A repeated idempotencyKey returns the transfer created by the first call.
func (s *Service) Transfer(ctx context.Context, from, to locking.AccountRef, amount decimal.Decimal, idempotencyKey string) (*models.Transfer, error) {
	start := time.Now()
	defer func() { metrics.TransferLatency.Observe(time.Since(start).Seconds()) }()

	key, err := normalizeKey(idempotencyKey)
	if err != nil {
		return nil, err
	}

	if key != nil {
		existing, err := s.transfers.FindByIdempotencyKey(ctx, s.db, *key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			metrics.TransfersTotal.WithLabelValues("idempotent_replay").Inc()
			return existing, nil
		}
	}

	amount = models.NormalizeAmount(amount)
	if !amount.IsPositive() {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return nil, errors.InvalidArgument.Explain("amount must be > 0")
	}

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

	pair, err := s.locks.LockPair(ctx, tx, from, to)
	if err != nil {
		tx.Rollback()
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// a concurrent request with the same key may have committed while we waited for the locks
	if key != nil {
		existing, err := s.transfers.FindByIdempotencyKey(ctx, tx, *key)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if existing != nil {
			tx.Rollback()
			metrics.TransfersTotal.WithLabelValues("idempotent_replay").Inc()
			return existing, nil
		}
	}

	t, err := s.apply(ctx, tx, pair, amount, key)
	if err != nil {
		tx.Rollback()
		if key != nil && database.IsUniqueViolation(err) {
			return s.committedTwin(ctx, *key, err)
		}
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		if key != nil && database.IsUniqueViolation(err) {
			return s.committedTwin(ctx, *key, err)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.TransfersTotal.WithLabelValues("completed").Inc()
	s.logger.Info("transfer completed",
		zap.String("transfer_id", t.ID.String()),
		zap.String("from", t.FromAccountID.String()),
		zap.String("to", t.ToAccountID.String()),
		zap.String("amount", t.Amount.StringFixed(models.MoneyScale)),
		zap.String("fee", t.Fee.StringFixed(models.MoneyScale)))

	s.publisher.PublishTransferCompleted(
		messaging.NewTransferCompletedEvent(t.ID, t.FromAccountID, t.ToAccountID, t.Amount))

	return t, nil
}

// TransferByNames is Transfer with both accounts addressed by owner name in currency.
func (s *Service) TransferByNames(ctx context.Context, fromName, toName, currency string, amount decimal.Decimal, idempotencyKey string) (*models.Transfer, error) {
	return s.Transfer(ctx, locking.ByName(fromName, currency), locking.ByName(toName, currency), amount, idempotencyKey)
}

// apply runs the balance checks and mutations on an already locked pair.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, pair *locking.Pair, amount decimal.Decimal, key *string) (*models.Transfer, error) {
	from, to := pair.From, pair.To

	if from.ID == to.ID {
		return nil, errors.InvalidArgument.Explain("cannot transfer to same account")
	}

	fee := s.policy.Fee(amount)
	amountWithFee := amount.Add(fee)

	if from.Balance.LessThan(amountWithFee) {
		return nil, errors.StateConflict.Explain("insufficient funds")
	}

	if !strings.EqualFold(from.Currency, to.Currency) {
		return nil, errors.InvalidArgument.Explain("currency mismatch")
	}

	now := s.clock.Now().UTC()
	if err := s.checkDailyLimit(ctx, tx, from.ID, amount, now); err != nil {
		return nil, err
	}

	from.Balance = from.Balance.Sub(amountWithFee)
	to.Balance = to.Balance.Add(amount)
	if err := s.balances.SaveBalance(ctx, tx, from); err != nil {
		return nil, err
	}
	if err := s.balances.SaveBalance(ctx, tx, to); err != nil {
		return nil, err
	}

	t := &models.Transfer{
		IdempotencyKey: key,
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Amount:         amount,
		Fee:            fee,
		Status:         models.TransferStatusCompleted,
		CreatedAt:      now,
	}
	if err := s.transfers.Create(ctx, tx, t); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return t, nil
}

func (s *Service) checkDailyLimit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	sent, err := s.transfers.SumCompletedOutgoingSince(ctx, tx, accountID, startOfDayUTC(now))
	if err != nil {
		return err
	}
	total := sent.Add(amount)
	if total.GreaterThan(s.policy.DailyLimit) {
		return errors.LimitExceeded.Explain("daily transfer limit exceeded: %s / %s",
			total.StringFixed(models.MoneyScale), s.policy.DailyLimit.StringFixed(models.MoneyScale))
	}
	return nil
}

// committedTwin resolves an idempotency-key collision to the transfer that won the race.
func (s *Service) committedTwin(ctx context.Context, key string, cause error) (*models.Transfer, error) {
	twin, err := s.transfers.FindByIdempotencyKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if twin == nil {
		return nil, errors.Internal.Explain("idempotency key collision without a committed transfer").Wrap(cause)
	}
	metrics.TransfersTotal.WithLabelValues("idempotent_replay").Inc()
	s.logger.Info("idempotency key collision resolved to committed transfer",
		zap.String("transfer_id", twin.ID.String()))
	return twin, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return s.transfers.FindByID(ctx, id)
}

// CountCompleted returns the number of transfers that are still COMPLETED.
func (s *Service) CountCompleted(ctx context.Context) (int64, error) {
	return s.transfers.CountByStatus(ctx, models.TransferStatusCompleted)
}

// CountRecentOutgoing counts transfers sent by accountID at or after since.
func (s *Service) CountRecentOutgoing(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error) {
	return s.transfers.CountOutgoingSince(ctx, accountID, since)
}

func normalizeKey(raw string) (*string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil, nil
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, errors.InvalidArgument.Explain("idempotency key must be at most %d characters", maxIdempotencyKeyLen)
	}
	return &key, nil
}
