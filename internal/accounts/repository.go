package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Bop4yH/wallet/internal/database"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
)

const accountNotFound = "Account not found"

// Repository is the gorm-backed account store. Every method taking tx runs
// inside the caller's transaction; the others use the repository's own handle.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the handle transactions are started from.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// LockByID loads the account with SELECT ... FOR UPDATE.
func (r *Repository) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&acc).Error
	if err != nil {
		return nil, notFoundOr(err, accountNotFound)
	}
	return &acc, nil
}

// LockByName loads the account of ownerName in currency with SELECT ... FOR UPDATE.
func (r *Repository) LockByName(ctx context.Context, tx *gorm.DB, ownerName, currency string) (*models.Account, error) {
	var acc models.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_key = ? AND currency = ?", models.OwnerKey(ownerName), models.NormalizeCurrency(currency)).
		First(&acc).Error
	if err != nil {
		return nil, notFoundOr(err, accountNotFound+": "+ownerName)
	}
	return &acc, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&acc).Error; err != nil {
		return nil, notFoundOr(err, accountNotFound)
	}
	return &acc, nil
}

func (r *Repository) FindByName(ctx context.Context, ownerName, currency string) (*models.Account, error) {
	var acc models.Account
	err := r.db.WithContext(ctx).
		Where("owner_key = ? AND currency = ?", models.OwnerKey(ownerName), models.NormalizeCurrency(currency)).
		First(&acc).Error
	if err != nil {
		return nil, notFoundOr(err, accountNotFound)
	}
	return &acc, nil
}

func (r *Repository) List(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	if err := r.db.WithContext(ctx).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// Create inserts acc. A duplicate (owner, currency) pair yields Conflict.
func (r *Repository) Create(ctx context.Context, acc *models.Account) error {
	if err := r.db.WithContext(ctx).Create(acc).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict.Explain("Account already exists for %s in %s",
				acc.OwnerName, models.NormalizeCurrency(acc.Currency))
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// SaveBalance writes acc.Balance for a locked account and bumps its version so
// concurrent optimistic writers notice the change.
func (r *Repository) SaveBalance(ctx context.Context, tx *gorm.DB, acc *models.Account) error {
	acc.Balance = models.NormalizeAmount(acc.Balance)
	res := tx.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", acc.ID).
		Updates(map[string]interface{}{
			"balance": acc.Balance,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update balance of %s: %w", acc.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFound.Explain(accountNotFound)
	}
	acc.Version++
	return nil
}

// CompareAndSetBalance writes balance only if the stored version still equals
// version. It reports false when another writer got there first.
func (r *Repository) CompareAndSetBalance(ctx context.Context, id uuid.UUID, version int64, balance decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"balance": models.NormalizeAmount(balance),
			"version": version + 1,
		})
	if res.Error != nil {
		return false, fmt.Errorf("compare-and-set balance of %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if err := tx.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{}).Error; err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

// Statistics aggregates COMPLETED transfers touching the account.
func (r *Repository) Statistics(ctx context.Context, id uuid.UUID) (*Statistics, error) {
	type agg struct {
		Cnt   int64
		Total decimal.NullDecimal
	}
	var in, out agg

	q := r.db.WithContext(ctx).Model(&models.Transfer{}).
		Select("COUNT(*) AS cnt, SUM(amount) AS total").
		Where("status = ?", models.TransferStatusCompleted)

	if err := q.Session(&gorm.Session{}).Where("to_account_id = ?", id).Scan(&in).Error; err != nil {
		return nil, fmt.Errorf("incoming statistics: %w", err)
	}
	if err := q.Session(&gorm.Session{}).Where("from_account_id = ?", id).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("outgoing statistics: %w", err)
	}

	return &Statistics{
		IncomingCount: in.Cnt,
		OutgoingCount: out.Cnt,
		TotalReceived: models.NormalizeAmount(orZero(in.Total)),
		TotalSent:     models.NormalizeAmount(orZero(out.Total)),
	}, nil
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

func notFoundOr(err error, msg string) error {
	if database.IsNotFound(err) {
		return errors.NotFound.Explain("%s", msg)
	}
	return fmt.Errorf("load account: %w", err)
}
