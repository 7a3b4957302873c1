package accounts

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bop4yH/wallet/internal/backoff"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/metrics"
	"github.com/Bop4yH/wallet/pkg/models"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Statistics summarizes the COMPLETED transfers of one account.
type Statistics struct {
	CurrentBalance decimal.Decimal
	IncomingCount  int64
	OutgoingCount  int64
	TotalReceived  decimal.Decimal
	TotalSent      decimal.Decimal
}

// BonusPolicy bounds the optimistic retry loop of AddBonus.
type BonusPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Service owns account lifecycle and the non-transfer balance mutations.
type Service struct {
	repo   *Repository
	bonus  BonusPolicy
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(repo *Repository, bonus BonusPolicy, logger *zap.Logger) *Service {
	if bonus.MaxAttempts < 1 {
		bonus.MaxAttempts = 1
	}
	return &Service{
		repo:   repo,
		bonus:  bonus,
		logger: logger.Named("accounts"),
		sleep:  backoff.SleepWithContext,
	}
}

// Create opens a zero-balance account.
func (s *Service) Create(ctx context.Context, ownerName, currency string) (*models.Account, error) {
	ownerName = strings.TrimSpace(ownerName)
	if ownerName == "" || len(ownerName) > 100 {
		return nil, errors.InvalidArgument.Explain("owner name must be 1..100 characters")
	}
	if !currencyPattern.MatchString(currency) {
		return nil, errors.InvalidArgument.Explain("Currency must be 3 letters")
	}

	acc := &models.Account{
		OwnerName: ownerName,
		Currency:  currency,
		Balance:   decimal.Zero,
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.String("account_id", acc.ID.String()),
		zap.String("currency", acc.Currency))
	return acc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, ownerName, currency string) (*models.Account, error) {
	if !currencyPattern.MatchString(currency) {
		return nil, errors.InvalidArgument.Explain("Currency must be 3 letters")
	}
	return s.repo.FindByName(ctx, ownerName, currency)
}

func (s *Service) List(ctx context.Context) ([]models.Account, error) {
	return s.repo.List(ctx)
}

// Deposit credits a positive amount under the account's row lock.
func (s *Service) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error) {
	return s.mutateLocked(ctx, func(tx *gorm.DB) (*models.Account, error) {
		return s.repo.LockByID(ctx, tx, id)
	}, amount, true)
}

// DepositByName is Deposit addressed by owner name and currency.
func (s *Service) DepositByName(ctx context.Context, ownerName, currency string, amount decimal.Decimal) (*models.Account, error) {
	return s.mutateLocked(ctx, func(tx *gorm.DB) (*models.Account, error) {
		return s.repo.LockByName(ctx, tx, ownerName, currency)
	}, amount, true)
}

// Withdraw debits a positive amount; the balance may not go negative.
func (s *Service) Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error) {
	return s.mutateLocked(ctx, func(tx *gorm.DB) (*models.Account, error) {
		return s.repo.LockByID(ctx, tx, id)
	}, amount, false)
}

func (s *Service) mutateLocked(ctx context.Context, lock func(tx *gorm.DB) (*models.Account, error), amount decimal.Decimal, credit bool) (*models.Account, error) {
	amount = models.NormalizeAmount(amount)
	if !amount.IsPositive() {
		return nil, errors.InvalidArgument.Explain("amount must be > 0")
	}

	var out *models.Account
	err := s.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := lock(tx)
		if err != nil {
			return err
		}
		if credit {
			acc.Balance = acc.Balance.Add(amount)
		} else {
			if acc.Balance.LessThan(amount) {
				return errors.StateConflict.Explain("insufficient funds")
			}
			acc.Balance = acc.Balance.Sub(amount)
		}
		if err := s.repo.SaveBalance(ctx, tx, acc); err != nil {
			return err
		}
		out = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an account whose balance is exactly zero.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !acc.Balance.IsZero() {
			return errors.StateConflict.Explain("account must have no funds to delete")
		}
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		s.logger.Info("account deleted", zap.String("account_id", id.String()))
		return nil
	})
}

func (s *Service) Statistics(ctx context.Context, id uuid.UUID) (*Statistics, error) {
	acc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.repo.Statistics(ctx, id)
	if err != nil {
		return nil, err
	}
	stats.CurrentBalance = acc.Balance
	return stats, nil
}

// AddBonus credits amount without taking the row lock. The write only lands if
// the account version is unchanged since it was read; otherwise it re-reads and
// retries up to MaxAttempts times, waiting Backoff between attempts.
func (s *Service) AddBonus(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error) {
	amount = models.NormalizeAmount(amount)
	if !amount.IsPositive() {
		return nil, errors.InvalidArgument.Explain("amount must be > 0")
	}

	for attempt := 1; ; attempt++ {
		acc, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("bonus read version",
			zap.String("account_id", id.String()),
			zap.Int64("version", acc.Version),
			zap.Int("attempt", attempt))

		newBalance := acc.Balance.Add(amount)
		ok, err := s.repo.CompareAndSetBalance(ctx, id, acc.Version, newBalance)
		if err != nil {
			return nil, err
		}
		if ok {
			acc.Balance = models.NormalizeAmount(newBalance)
			acc.Version++
			return acc, nil
		}

		metrics.BonusRetriesTotal.Inc()
		if attempt >= s.bonus.MaxAttempts {
			s.logger.Warn("bonus gave up after concurrent modifications",
				zap.String("account_id", id.String()),
				zap.Int("attempts", attempt))
			return nil, errors.Conflict.Explain("account %s was modified concurrently, bonus not applied after %d attempts", id, attempt)
		}
		if err := s.sleep(ctx, s.bonus.Backoff); err != nil {
			return nil, fmt.Errorf("bonus retry interrupted: %w", err)
		}
	}
}
