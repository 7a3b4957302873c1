package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/internal/accounts"
	"github.com/Bop4yH/wallet/internal/locking"
	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/internal/transfer"
	walleterrors "github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
	"github.com/Bop4yH/wallet/testutil"
)

type mapAccounts map[uuid.UUID]*models.Account

func (m mapAccounts) FindByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if acc, ok := m[id]; ok {
		return acc, nil
	}
	return nil, walleterrors.NotFound.Explain("Account not found")
}

type fakeCanceller struct {
	mu        sync.Mutex
	calls     []uuid.UUID
	err       error
	cancelled map[uuid.UUID]bool
}

func (c *fakeCanceller) Cancel(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	if c.err != nil {
		return nil, c.err
	}
	if c.cancelled == nil {
		c.cancelled = make(map[uuid.UUID]bool)
	}
	c.cancelled[id] = true
	return &models.Transfer{ID: id, Status: models.TransferStatusCancelled}, nil
}

func (c *fakeCanceller) Get(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := models.TransferStatusCompleted
	if c.cancelled[id] {
		status = models.TransferStatusCancelled
	}
	return &models.Transfer{ID: id, Status: status}, nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []messaging.FraudAlertMessage
	err    error
}

func (a *fakeAlerts) PublishFraudAlert(_ context.Context, alert messaging.FraudAlertMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.alerts = append(a.alerts, alert)
	return nil
}

func scoreRule(score int) Rule {
	return RuleFunc(func(context.Context, messaging.TransferCompletedEvent, *models.Account, time.Time) (*RuleResult, error) {
		return &RuleResult{Score: score, Reason: "fixed"}, nil
	})
}

type monitorFixture struct {
	monitor   *Monitor
	canceller *fakeCanceller
	alerts    *fakeAlerts
	sender    *models.Account
}

func newMonitorFixture(t *testing.T, dedup Deduplicator, rules ...Rule) *monitorFixture {
	t.Helper()
	sender := &models.Account{ID: uuid.New(), CreatedAt: now.Add(-72 * time.Hour)}
	analyzer := NewAnalyzer(mapAccounts{sender.ID: sender}, rules, DefaultThresholds(),
		func() time.Time { return now }, zap.NewNop())
	f := &monitorFixture{canceller: &fakeCanceller{}, alerts: &fakeAlerts{}, sender: sender}
	f.monitor = NewMonitor(analyzer, f.canceller, f.alerts, dedup, zap.NewNop())
	return f
}

func (f *monitorFixture) event(amount string) messaging.TransferCompletedEvent {
	e := event(amount)
	e.FromAccountID = f.sender.ID
	return e
}

func TestAnalyzeSumsScoresAndFormatsReasons(t *testing.T) {
	f := newMonitorFixture(t, nil, AccountAgeRule(), AmountRule(100000, 10000), VelocityRule(&staticCounter{n: 9}, 10*time.Minute, 5))
	f.sender.CreatedAt = now.Add(-time.Minute)

	res, err := f.monitor.analyzer.Analyze(context.Background(), f.event("150000"))
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, res.RiskLevel)
	assert.Equal(t, 130, res.Score)
	assert.Equal(t, []string{
		"Critical: Account created < 10 mins ago (+60)",
		"Amount > 100000 (+30)",
		"Velocity: 9 transfers in last 10 mins (+40)",
	}, res.Reasons)
	assert.Equal(t, "150000", res.SuspiciousAmount.String())
}

func TestAnalyzeMissingSenderIsInternal(t *testing.T) {
	f := newMonitorFixture(t, nil, AccountAgeRule())

	_, err := f.monitor.analyzer.Analyze(context.Background(), event("1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, walleterrors.Internal)
}

func TestLowRiskDoesNothing(t *testing.T) {
	f := newMonitorFixture(t, nil, scoreRule(10))

	res, err := f.monitor.Handle(context.Background(), f.event("1"))
	require.NoError(t, err)
	assert.Equal(t, RiskLow, res.RiskLevel)
	assert.Empty(t, f.alerts.alerts)
	assert.Empty(t, f.canceller.calls)
}

func TestMediumRiskAlertsWithoutCancelling(t *testing.T) {
	f := newMonitorFixture(t, nil, scoreRule(40))
	e := f.event("20000")

	res, err := f.monitor.Handle(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, res.RiskLevel)
	assert.Empty(t, f.canceller.calls)

	require.Len(t, f.alerts.alerts, 1)
	alert := f.alerts.alerts[0]
	assert.Equal(t, e.TransferID, alert.TransferID)
	assert.Equal(t, "MEDIUM", alert.RiskLevel)
	assert.Equal(t, "WARNING: Call client required. Do not cancel yet.", alert.Message)
	assert.Equal(t, "COMPLETED", alert.TransferStatus)
	assert.Equal(t, []string{"fixed (+40)"}, alert.Reasons)
}

func TestHighRiskCancelsTransfer(t *testing.T) {
	f := newMonitorFixture(t, nil, scoreRule(90))
	e := f.event("1")

	res, err := f.monitor.Handle(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCancelled, res.TransferStatus)
	assert.Equal(t, []uuid.UUID{e.TransferID}, f.canceller.calls)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, "CRITICAL: Transfer CANCELLED automatically. Call client.", f.alerts.alerts[0].Message)
	assert.Equal(t, "CANCELLED", f.alerts.alerts[0].TransferStatus)
}

func TestHighRiskCancelFailureIsReportedNotReturned(t *testing.T) {
	f := newMonitorFixture(t, nil, scoreRule(90))
	f.canceller.err = walleterrors.StateConflict.Explain("5 minutes passed, can't cancel")

	res, err := f.monitor.Handle(context.Background(), f.event("1"))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, res.TransferStatus)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t,
		"CRITICAL: Fraud detected but CANCEL FAILED! Call client. Error: 5 minutes passed, can't cancel",
		f.alerts.alerts[0].Message)
	assert.Equal(t, "COMPLETED", f.alerts.alerts[0].TransferStatus)
}

func TestRetryAfterAlertFailureReportsEarlierCancellation(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := accounts.NewRepository(db)
	accountSvc := accounts.NewService(repo, accounts.BonusPolicy{MaxAttempts: 1}, zap.NewNop())
	transferSvc := transfer.NewService(db, repo, locking.NewCoordinator(repo, zap.NewNop()), nil,
		transfer.DefaultPolicy(), transfer.ClockFunc(func() time.Time { return now }), zap.NewNop())

	alice, err := accountSvc.Create(ctx, "Alice", "USD")
	require.NoError(t, err)
	_, err = accountSvc.Deposit(ctx, alice.ID, decimal.RequireFromString("300"))
	require.NoError(t, err)
	bob, err := accountSvc.Create(ctx, "Bob", "USD")
	require.NoError(t, err)

	tr, err := transferSvc.Transfer(ctx, locking.ByID(alice.ID), locking.ByID(bob.ID), decimal.RequireFromString("100"), "")
	require.NoError(t, err)
	e := messaging.NewTransferCompletedEvent(tr.ID, alice.ID, bob.ID, tr.Amount)

	d, _ := newRedisDedup(t)
	alerts := &fakeAlerts{err: errors.New("broker unavailable")}
	analyzer := NewAnalyzer(repo, []Rule{scoreRule(100)}, DefaultThresholds(), func() time.Time { return now }, zap.NewNop())
	monitor := NewMonitor(analyzer, transferSvc, alerts, d, zap.NewNop())

	_, err = monitor.Handle(ctx, e)
	require.Error(t, err)
	assert.ErrorIs(t, err, walleterrors.TransportFailure)

	stored, err := transferSvc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransferStatusCancelled, stored.Status)

	alerts.err = nil
	res, err := monitor.Handle(ctx, e)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.TransferStatusCancelled, res.TransferStatus)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, "CRITICAL: Transfer CANCELLED automatically. Call client.", alerts.alerts[0].Message)
	assert.Equal(t, "CANCELLED", alerts.alerts[0].TransferStatus)

	sender, err := accountSvc.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", sender.Balance.StringFixed(2), "refund applied exactly once")
}

func TestAlertTransportFailureIsReturned(t *testing.T) {
	f := newMonitorFixture(t, nil, scoreRule(40))
	f.alerts.err = errors.New("broker unavailable")

	_, err := f.monitor.Handle(context.Background(), f.event("1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, walleterrors.TransportFailure)
}

func newRedisDedup(t *testing.T) (*RedisDeduplicator, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduplicator(client, time.Hour), mr
}

func TestRedisDeduplicator(t *testing.T) {
	d, mr := newRedisDedup(t)
	ctx := context.Background()
	id := uuid.New()

	first, err := d.Mark(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.Mark(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, time.Hour, mr.TTL("wallet:fraud:processed:"+id.String()))

	require.NoError(t, d.Release(ctx, id))
	first, err = d.Mark(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	mr.FastForward(2 * time.Hour)
	first, err = d.Mark(ctx, id)
	require.NoError(t, err)
	assert.True(t, first, "marks expire after the TTL")
}

func TestRedeliveredEventIsAnalyzedOnce(t *testing.T) {
	d, _ := newRedisDedup(t)
	f := newMonitorFixture(t, d, scoreRule(90))
	e := f.event("1")

	_, err := f.monitor.Handle(context.Background(), e)
	require.NoError(t, err)

	res, err := f.monitor.Handle(context.Background(), e)
	require.NoError(t, err)
	assert.Nil(t, res)

	assert.Len(t, f.canceller.calls, 1)
	assert.Len(t, f.alerts.alerts, 1)
}

func TestFailedHandlingReleasesMark(t *testing.T) {
	d, _ := newRedisDedup(t)
	f := newMonitorFixture(t, d, scoreRule(40))
	f.alerts.err = errors.New("broker unavailable")
	e := f.event("1")

	_, err := f.monitor.Handle(context.Background(), e)
	require.Error(t, err)

	f.alerts.err = nil
	res, err := f.monitor.Handle(context.Background(), e)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, f.alerts.alerts, 1)
}

func TestUnavailableDedupStillAnalyzes(t *testing.T) {
	d, mr := newRedisDedup(t)
	mr.Close()
	f := newMonitorFixture(t, d, scoreRule(40))

	res, err := f.monitor.Handle(context.Background(), f.event("1"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, f.alerts.alerts, 1)
}

func TestMessageHandlerDecodesEvents(t *testing.T) {
	f := newMonitorFixture(t, nil, scoreRule(40))
	e := f.event("12.50")
	payload, err := json.Marshal(e)
	require.NoError(t, err)

	handler := f.monitor.MessageHandler()
	require.NoError(t, handler(context.Background(), &messaging.ReceivedMessage{Key: e.TransferID.String(), Value: payload}))
	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, e.TransferID, f.alerts.alerts[0].TransferID)
	assert.Equal(t, "12.5", f.alerts.alerts[0].SuspiciousAmount.String())

	assert.NoError(t, handler(context.Background(), &messaging.ReceivedMessage{Value: []byte("not json")}))
	assert.Len(t, f.alerts.alerts, 1)
}
