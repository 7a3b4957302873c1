package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Bop4yH/wallet/internal/database"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
)

// Repository is the gorm-backed transfer store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByIdempotencyKey returns nil without error when no transfer carries key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*models.Transfer, error) {
	var t models.Transfer
	err := db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&t).Error
	if err != nil {
		return nil, fmt.Errorf("find transfer by idempotency key: %w", err)
	}
	if t.ID == uuid.Nil {
		return nil, nil
	}
	return &t, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var t models.Transfer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("transfer not found")
		}
		return nil, fmt.Errorf("find transfer: %w", err)
	}
	return &t, nil
}

// LockByID loads the transfer with SELECT ... FOR UPDATE inside tx.
func (r *Repository) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Transfer, error) {
	var t models.Transfer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("no such transfer")
		}
		return nil, fmt.Errorf("lock transfer: %w", err)
	}
	return &t, nil
}

// Create inserts t. The raw driver error is returned so callers can detect
// idempotency-key collisions.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, t *models.Transfer) error {
	return tx.WithContext(ctx).Create(t).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, tx *gorm.DB, t *models.Transfer) error {
	err := tx.WithContext(ctx).
		Model(&models.Transfer{}).
		Where("id = ?", t.ID).
		Update("status", t.Status).Error
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	return nil
}

// SumCompletedOutgoingSince totals COMPLETED transfers sent by accountID at or after since.
func (r *Repository) SumCompletedOutgoingSince(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.WithContext(ctx).
		Model(&models.Transfer{}).
		Select("SUM(amount)").
		Where("from_account_id = ? AND status = ? AND created_at >= ?", accountID, models.TransferStatusCompleted, since.UTC()).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum daily transfers: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return models.NormalizeAmount(total.Decimal), nil
}

func (r *Repository) CountByStatus(ctx context.Context, status models.TransferStatus) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Transfer{}).Where("status = ?", status).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

// CountOutgoingSince counts every transfer sent by accountID at or after since, whatever its status.
func (r *Repository) CountOutgoingSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Transfer{}).
		Where("from_account_id = ? AND created_at >= ?", accountID, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count recent transfers: %w", err)
	}
	return n, nil
}
