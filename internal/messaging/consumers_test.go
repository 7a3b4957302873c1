package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSMSNotifierWaitsForDelay(t *testing.T) {
	n := NewSMSNotifier(3*time.Second, zap.NewNop())
	sleeps := &recordedSleeps{}
	n.sleep = sleeps.sleep

	data, err := json.Marshal(testEvent())
	require.NoError(t, err)

	require.NoError(t, n.Handle(context.Background(), &ReceivedMessage{Value: data}))
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeps.all())
}

func TestSMSNotifierRejectsGarbage(t *testing.T) {
	n := NewSMSNotifier(0, zap.NewNop())
	assert.Error(t, n.Handle(context.Background(), &ReceivedMessage{Value: []byte("{")}))
}

func TestOperatorCall(t *testing.T) {
	pool := NewOperatorPool(5, 10*time.Minute, zap.NewNop())
	sleeps := &recordedSleeps{}
	pool.sleep = sleeps.sleep
	assert.Equal(t, 5, pool.Size())

	data, err := json.Marshal(FraudAlertMessage{
		BaseMessage: NewBaseMessage(MsgFraudAlert, "fraud-monitor", ""),
		TransferID:  uuid.New(),
		RiskLevel:   "MEDIUM",
	})
	require.NoError(t, err)

	require.NoError(t, pool.Operator(2)(context.Background(), &ReceivedMessage{Value: data}))
	assert.Equal(t, []time.Duration{10 * time.Minute}, sleeps.all())
}

func TestOperatorCallInterruptedByShutdown(t *testing.T) {
	pool := NewOperatorPool(1, time.Hour, zap.NewNop())

	data, err := json.Marshal(FraudAlertMessage{TransferID: uuid.New()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Operator(1)(ctx, &ReceivedMessage{Value: data}) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("operator ignored cancellation")
	}
}

func TestNewOperatorPoolMinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewOperatorPool(0, time.Second, zap.NewNop()).Size())
}
