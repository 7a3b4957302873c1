package accounts

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
	"github.com/Bop4yH/wallet/testutil"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewTestDB(t)
	svc := NewService(NewRepository(db), BonusPolicy{MaxAttempts: 3, Backoff: time.Second}, zap.NewNop())
	return svc, db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateAccount(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "usd")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, acc.ID)
	assert.Equal(t, "USD", acc.Currency)
	assert.True(t, acc.Balance.IsZero())
	assert.Equal(t, time.UTC, acc.CreatedAt.Location())

	_, err = svc.Create(ctx, "ALICE", "USD")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.Conflict)
	assert.Equal(t, "Account already exists for ALICE in USD", err.Error())

	other, err := svc.Create(ctx, "Alice", "EUR")
	require.NoError(t, err)
	assert.NotEqual(t, acc.ID, other.ID)
}

func TestCreateAccountValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "Alice", "US")
	assert.ErrorIs(t, err, errors.InvalidArgument)

	_, err = svc.Create(ctx, "   ", "USD")
	assert.ErrorIs(t, err, errors.InvalidArgument)
}

func TestGetByNameIsCaseInsensitive(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Bob", "RUB")
	require.NoError(t, err)

	found, err := svc.GetByName(ctx, "bOB", "rub")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)

	_, err = svc.GetByName(ctx, "carol", "RUB")
	assert.ErrorIs(t, err, errors.NotFound)

	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.NotFound)
}

func TestDepositAndWithdraw(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)

	acc, err = svc.Deposit(ctx, acc.ID, dec("100.005"))
	require.NoError(t, err)
	assert.Equal(t, "100.01", acc.Balance.StringFixed(2))

	acc, err = svc.Withdraw(ctx, acc.ID, dec("40"))
	require.NoError(t, err)
	assert.Equal(t, "60.01", acc.Balance.StringFixed(2))

	_, err = svc.Withdraw(ctx, acc.ID, dec("60.02"))
	assert.ErrorIs(t, err, errors.StateConflict)

	_, err = svc.Deposit(ctx, acc.ID, dec("0"))
	assert.ErrorIs(t, err, errors.InvalidArgument)

	reloaded, err := svc.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.01", reloaded.Balance.StringFixed(2))
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestDepositByName(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)

	acc, err := svc.DepositByName(ctx, "alice", "usd", dec("12.5"))
	require.NoError(t, err)
	assert.Equal(t, "12.50", acc.Balance.StringFixed(2))
}

func TestConcurrentDeposits(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deposit(ctx, acc.ID, dec("10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reloaded, err := svc.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", reloaded.Balance.StringFixed(2))
}

func TestDeleteRequiresZeroBalance(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, acc.ID, dec("1"))
	require.NoError(t, err)

	err = svc.Delete(ctx, acc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.StateConflict)

	_, err = svc.Withdraw(ctx, acc.ID, dec("1"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, acc.ID))

	_, err = svc.Get(ctx, acc.ID)
	assert.ErrorIs(t, err, errors.NotFound)
	assert.ErrorIs(t, svc.Delete(ctx, acc.ID), errors.NotFound)
}

func TestStatistics(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "Bob", "USD")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, a.ID, dec("500"))
	require.NoError(t, err)

	rows := []models.Transfer{
		{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("100"), Fee: dec("1")},
		{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("50"), Fee: dec("0.5")},
		{FromAccountID: b.ID, ToAccountID: a.ID, Amount: dec("20"), Fee: dec("0.2")},
		{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("999"), Fee: dec("9.99"), Status: models.TransferStatusCancelled},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	stats, err := svc.Statistics(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", stats.CurrentBalance.StringFixed(2))
	assert.Equal(t, int64(1), stats.IncomingCount)
	assert.Equal(t, int64(2), stats.OutgoingCount)
	assert.Equal(t, "20.00", stats.TotalReceived.StringFixed(2))
	assert.Equal(t, "150.00", stats.TotalSent.StringFixed(2))

	empty, err := svc.Create(ctx, "Carol", "USD")
	require.NoError(t, err)
	stats, err = svc.Statistics(ctx, empty.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.IncomingCount)
	assert.True(t, stats.TotalSent.IsZero())
}

// staleReads makes the next n account reads stale by bumping the row version
// right after each read completes.
func staleReads(t *testing.T, db *gorm.DB, id uuid.UUID, n int32) {
	remaining := n
	err := db.Callback().Query().After("gorm:query").Register("test:stale_read", func(tx *gorm.DB) {
		if tx.Statement.Table != "accounts" || atomic.AddInt32(&remaining, -1) < 0 {
			return
		}
		require.NoError(t, db.Exec("UPDATE accounts SET version = version + 1 WHERE id = ?", id).Error)
	})
	require.NoError(t, err)
}

func TestAddBonusRetriesOnConcurrentModification(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)

	var slept []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	staleReads(t, db, acc.ID, 2)

	updated, err := svc.AddBonus(ctx, acc.ID, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, "5.00", updated.Balance.StringFixed(2))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, slept)
}

func TestAddBonusGivesUpAfterMaxAttempts(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)

	sleeps := 0
	svc.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	staleReads(t, db, acc.ID, 10)

	_, err = svc.AddBonus(ctx, acc.ID, dec("5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.Conflict)
	assert.Equal(t, 2, sleeps)
}

func TestAddBonusDoesNotLoseLockedWrites(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Deposit(ctx, acc.ID, dec("1"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			// conflicts are allowed to exhaust retries, they must never lose money
			_, _ = svc.AddBonus(ctx, acc.ID, dec("100"))
		}()
	}
	wg.Wait()

	reloaded, err := svc.Get(ctx, acc.ID)
	require.NoError(t, err)
	deposits := reloaded.Balance.Mod(dec("100"))
	assert.Equal(t, "10.00", deposits.StringFixed(2))
}
