package fraud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/internal/messaging"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/metrics"
	"github.com/Bop4yH/wallet/pkg/models"
)

const (
	msgMediumRisk     = "WARNING: Call client required. Do not cancel yet."
	msgCancelled      = "CRITICAL: Transfer CANCELLED automatically. Call client."
	msgCancelFailedFn = "CRITICAL: Fraud detected but CANCEL FAILED! Call client. Error: %s"
)

// Canceller reverses a completed transfer.
type Canceller interface {
	Cancel(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
}

// AlertPublisher delivers fraud alerts to the call center.
type AlertPublisher interface {
	PublishFraudAlert(ctx context.Context, alert messaging.FraudAlertMessage) error
}

// Monitor decides what to do with each analyzed transfer
type Monitor struct {
	analyzer  *Analyzer
	canceller Canceller
	alerts    AlertPublisher
	dedup     Deduplicator
	logger    *zap.Logger
}

// NewMonitor wires the fraud disposition. dedup may be nil, in which case
// every delivery is analyzed.
func NewMonitor(analyzer *Analyzer, canceller Canceller, alerts AlertPublisher, dedup Deduplicator, logger *zap.Logger) *Monitor {
	return &Monitor{
		analyzer:  analyzer,
		canceller: canceller,
		alerts:    alerts,
		dedup:     dedup,
		logger:    logger.Named("fraud-monitor"),
	}
}

// Handle analyzes a completed transfer and raises an alert for MEDIUM and HIGH risk.
// HIGH risk transfers are cancelled first; a failed cancellation is reported in the
// alert, never returned. A nil result means the event was a redelivery and was skipped.
func (m *Monitor) Handle(ctx context.Context, event messaging.TransferCompletedEvent) (*AnalysisResult, error) {
	if m.dedup != nil {
		first, err := m.dedup.Mark(ctx, event.TransferID)
		switch {
		case err != nil:
			m.logger.Warn("dedup store unavailable, analyzing anyway",
				zap.String("transfer_id", event.TransferID.String()), zap.Error(err))
		case !first:
			m.logger.Info("duplicate transfer event skipped",
				zap.String("transfer_id", event.TransferID.String()))
			return nil, nil
		}
	}

	result, err := m.handle(ctx, event)
	if err != nil && m.dedup != nil {
		if relErr := m.dedup.Release(ctx, event.TransferID); relErr != nil {
			m.logger.Warn("failed to release dedup mark",
				zap.String("transfer_id", event.TransferID.String()), zap.Error(relErr))
		}
	}
	return result, err
}

func (m *Monitor) handle(ctx context.Context, event messaging.TransferCompletedEvent) (*AnalysisResult, error) {
	result, err := m.analyzer.Analyze(ctx, event)
	if err != nil {
		return nil, err
	}

	switch result.RiskLevel {
	case RiskLow:
		return result, nil
	case RiskMedium:
		result.Message = msgMediumRisk
		result.TransferStatus = models.TransferStatusCompleted
	case RiskHigh:
		m.logger.Warn("high fraud risk detected, cancelling transfer",
			zap.String("transfer_id", event.TransferID.String()),
			zap.Int("score", result.Score))
		_, err := m.canceller.Cancel(ctx, event.TransferID)
		switch {
		case err != nil && m.alreadyCancelled(ctx, event.TransferID, err):
			// an earlier delivery cancelled it and then failed to publish the alert
			metrics.FraudAutoCancelTotal.WithLabelValues("already_cancelled").Inc()
			result.Message = msgCancelled
			result.TransferStatus = models.TransferStatusCancelled
		case err != nil:
			metrics.FraudAutoCancelTotal.WithLabelValues("failed").Inc()
			result.Message = fmt.Sprintf(msgCancelFailedFn, err.Error())
			result.TransferStatus = models.TransferStatusCompleted
		default:
			metrics.FraudAutoCancelTotal.WithLabelValues("cancelled").Inc()
			result.Message = msgCancelled
			result.TransferStatus = models.TransferStatusCancelled
		}
	}

	if err := m.alerts.PublishFraudAlert(ctx, result.Alert()); err != nil {
		return result, errors.TransportFailure.Explain("publish fraud alert for %s", event.TransferID).Wrap(err)
	}
	return result, nil
}

// alreadyCancelled reports whether a state conflict from Cancel means the transfer
// is already in CANCELLED state.
func (m *Monitor) alreadyCancelled(ctx context.Context, id uuid.UUID, cancelErr error) bool {
	if !errors.Is(cancelErr, errors.StateConflict) {
		return false
	}
	t, err := m.canceller.Get(ctx, id)
	if err != nil {
		m.logger.Warn("failed to re-read transfer after cancel conflict",
			zap.String("transfer_id", id.String()), zap.Error(err))
		return false
	}
	return t.Status == models.TransferStatusCancelled
}

// MessageHandler decodes completion events from the transport and feeds them to Handle.
// Undecodable payloads are logged and dropped.
func (m *Monitor) MessageHandler() messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.ReceivedMessage) error {
		var event messaging.TransferCompletedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			m.logger.Error("dropping undecodable transfer event",
				zap.String("key", msg.Key), zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		_, err := m.Handle(ctx, event)
		return err
	}
}
