package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/pkg/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func event(amount string) messaging.TransferCompletedEvent {
	return messaging.NewTransferCompletedEvent(uuid.New(), uuid.New(), uuid.New(), decimal.RequireFromString(amount))
}

type staticCounter struct {
	n     int64
	err   error
	since time.Time
}

func (c *staticCounter) CountRecentOutgoing(_ context.Context, _ uuid.UUID, since time.Time) (int64, error) {
	c.since = since
	return c.n, c.err
}

func TestAccountAgeRule(t *testing.T) {
	rule := AccountAgeRule()
	tests := []struct {
		name   string
		age    time.Duration
		score  int
		reason string
	}{
		{"brand new", 5 * time.Minute, 60, "Critical: Account created < 10 mins ago"},
		{"just under ten minutes", 10*time.Minute - time.Second, 60, "Critical: Account created < 10 mins ago"},
		{"ten minutes", 10 * time.Minute, 20, "Warning: Account created < 24 hours ago"},
		{"same day", 23 * time.Hour, 20, "Warning: Account created < 24 hours ago"},
		{"old", 48 * time.Hour, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &models.Account{CreatedAt: now.Add(-tt.age)}
			res, err := rule.Evaluate(context.Background(), event("1"), sender, now)
			require.NoError(t, err)
			if tt.score == 0 {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestAmountRule(t *testing.T) {
	rule := AmountRule(100000, 10000)
	tests := []struct {
		amount string
		score  int
		reason string
	}{
		{"100000.01", 30, "Amount > 100000"},
		{"100000", 10, "Amount > 10000"},
		{"10000.01", 10, "Amount > 10000"},
		{"10000", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), event(tt.amount), &models.Account{}, now)
			require.NoError(t, err)
			if tt.score == 0 {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestVelocityRule(t *testing.T) {
	counter := &staticCounter{n: 6}
	rule := VelocityRule(counter, 10*time.Minute, 5)

	res, err := rule.Evaluate(context.Background(), event("1"), &models.Account{}, now)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 40, res.Score)
	assert.Equal(t, "Velocity: 6 transfers in last 10 mins", res.Reason)
	assert.Equal(t, now.Add(-10*time.Minute), counter.since)

	counter.n = 5
	res, err = rule.Evaluate(context.Background(), event("1"), &models.Account{}, now)
	require.NoError(t, err)
	assert.Nil(t, res, "the limit itself is not suspicious")

	counter.err = errors.New("db down")
	_, err = rule.Evaluate(context.Background(), event("1"), &models.Account{}, now)
	assert.Error(t, err)
}

func TestThresholdLevels(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, RiskLow, th.Level(29))
	assert.Equal(t, RiskMedium, th.Level(30))
	assert.Equal(t, RiskMedium, th.Level(69))
	assert.Equal(t, RiskHigh, th.Level(70))
}
