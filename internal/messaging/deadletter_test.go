package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Bop4yH/wallet/testutil"
)

func TestDBDeadLetterSink(t *testing.T) {
	db := testutil.NewTestDB(t)
	sink := NewDBDeadLetterSink(db)
	ctx := context.Background()

	event := testEvent()
	require.NoError(t, sink.Store(ctx, DeadLetter{
		Topic:     TopicTransferNotifications,
		Key:       event.TransferID.String(),
		Message:   event,
		LastError: errors.New("broker unavailable"),
		Attempts:  10,
	}))

	rows, err := sink.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(TopicTransferNotifications), rows[0].Topic)
	assert.Equal(t, event.TransferID.String(), rows[0].Key)
	assert.Contains(t, rows[0].Payload, event.TransferID.String())
	assert.Contains(t, rows[0].Payload, `"amount":"100"`)
	assert.Equal(t, "broker unavailable", rows[0].LastError)
	assert.Equal(t, 10, rows[0].Attempts)
}

func TestLogDeadLetterSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogDeadLetterSink(zap.New(core))

	event := testEvent()
	require.NoError(t, sink.Store(context.Background(), DeadLetter{
		Topic:     TopicTransferNotifications,
		Key:       event.TransferID.String(),
		Message:   event,
		LastError: errors.New("broker unavailable"),
		Attempts:  10,
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Event dropped after retries", entries[0].Message)
	assert.Equal(t, "dead-letter", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(TopicTransferNotifications), fields["topic"])
	assert.Equal(t, int64(10), fields["attempts"])
}
