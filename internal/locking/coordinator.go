// Package locking acquires row locks on account pairs in a deterministic order
// so that concurrent transfers in opposite directions never deadlock.
package locking

import (
	"bytes"
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
)

// AccountLocker loads an account with an exclusive row lock held until tx ends.
type AccountLocker interface {
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Account, error)
	LockByName(ctx context.Context, tx *gorm.DB, ownerName, currency string) (*models.Account, error)
}

// AccountRef identifies an account either by id or by owner name and currency.
type AccountRef struct {
	ID        uuid.UUID
	OwnerName string
	Currency  string
}

func ByID(id uuid.UUID) AccountRef {
	return AccountRef{ID: id}
}

func ByName(ownerName, currency string) AccountRef {
	return AccountRef{OwnerName: ownerName, Currency: currency}
}

// IsName reports whether the ref addresses the account by owner name.
func (r AccountRef) IsName() bool {
	return r.ID == uuid.Nil
}

func (r AccountRef) String() string {
	if r.IsName() {
		return r.OwnerName + "/" + models.NormalizeCurrency(r.Currency)
	}
	return r.ID.String()
}

// Pair holds both locked accounts in the caller's roles, whatever order they were locked in.
type Pair struct {
	From *models.Account
	To   *models.Account
}

// Coordinator is stateless apart from its locker; it never commits or rolls back.
type Coordinator struct {
	locker AccountLocker
	logger *zap.Logger
}

func NewCoordinator(locker AccountLocker, logger *zap.Logger) *Coordinator {
	return &Coordinator{locker: locker, logger: logger.Named("locking")}
}

// LockPair locks two distinct accounts inside tx.
func (c *Coordinator) LockPair(ctx context.Context, tx *gorm.DB, from, to AccountRef) (*Pair, error) {
	if !from.IsName() && !to.IsName() && from.ID == to.ID {
		return nil, errors.InvalidArgument.Explain("from and to must differ")
	}
	return c.lock(ctx, tx, from, to)
}

// RelockPair locks the accounts of an existing transfer. Equal ids are allowed.
func (c *Coordinator) RelockPair(ctx context.Context, tx *gorm.DB, fromID, toID uuid.UUID) (*Pair, error) {
	return c.lock(ctx, tx, ByID(fromID), ByID(toID))
}

func (c *Coordinator) lock(ctx context.Context, tx *gorm.DB, from, to AccountRef) (*Pair, error) {
	if from.IsName() != to.IsName() {
		return nil, errors.InvalidArgument.Explain("accounts must be addressed the same way")
	}

	cmp := compareRefs(from, to)
	if cmp == 0 {
		acc, err := c.lockOne(ctx, tx, from)
		if err != nil {
			return nil, err
		}
		twin := *acc
		return &Pair{From: acc, To: &twin}, nil
	}

	first, second := from, to
	swapped := cmp > 0
	if swapped {
		first, second = to, from
	}

	a, err := c.lockOne(ctx, tx, first)
	if err != nil {
		return nil, err
	}
	b, err := c.lockOne(ctx, tx, second)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("account pair locked",
		zap.String("first", first.String()),
		zap.String("second", second.String()))

	if swapped {
		return &Pair{From: b, To: a}, nil
	}
	return &Pair{From: a, To: b}, nil
}

func (c *Coordinator) lockOne(ctx context.Context, tx *gorm.DB, ref AccountRef) (*models.Account, error) {
	if ref.IsName() {
		return c.locker.LockByName(ctx, tx, ref.OwnerName, ref.Currency)
	}
	return c.locker.LockByID(ctx, tx, ref.ID)
}

// compareRefs orders ids by their bytes and names case-insensitively, then by currency.
func compareRefs(a, b AccountRef) int {
	if !a.IsName() {
		return bytes.Compare(a.ID[:], b.ID[:])
	}
	if c := strings.Compare(models.OwnerKey(a.OwnerName), models.OwnerKey(b.OwnerName)); c != 0 {
		return c
	}
	return strings.Compare(models.NormalizeCurrency(a.Currency), models.NormalizeCurrency(b.Currency))
}
