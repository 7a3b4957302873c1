package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/internal/backoff"
)

// SMSNotifier tells the recipient about incoming money. The send itself is simulated.
type SMSNotifier struct {
	delay  time.Duration
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSMSNotifier(delay time.Duration, logger *zap.Logger) *SMSNotifier {
	return &SMSNotifier{
		delay:  delay,
		logger: logger.Named("sms"),
		sleep:  backoff.SleepWithContext,
	}
}

// Register subscribes the notifier to transfer completions in its own group
func (n *SMSNotifier) Register(bus *MessageBus) {
	bus.RegisterHandler(MsgTransferCompleted, GroupSMS, n.Handle)
}

func (n *SMSNotifier) Handle(ctx context.Context, msg *ReceivedMessage) error {
	var event TransferCompletedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal transfer completed event: %w", err)
	}

	n.logger.Info("Sending SMS",
		zap.String("transfer_id", event.TransferID.String()),
		zap.String("to_account_id", event.ToAccountID.String()),
		zap.String("amount", event.Amount.StringFixed(2)))

	if err := n.sleep(ctx, n.delay); err != nil {
		return err
	}

	n.logger.Info("SMS sent", zap.String("transfer_id", event.TransferID.String()))
	return nil
}

// OperatorPool is the call center: each operator reads fraud alerts from the
// shared group and handles one call at a time.
type OperatorPool struct {
	size         int
	callDuration time.Duration
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewOperatorPool(size int, callDuration time.Duration, logger *zap.Logger) *OperatorPool {
	if size < 1 {
		size = 1
	}
	return &OperatorPool{
		size:         size,
		callDuration: callDuration,
		logger:       logger.Named("call-center"),
		sleep:        backoff.SleepWithContext,
	}
}

func (p *OperatorPool) Size() int { return p.size }

// Register adds one reader per operator to the call-center group
func (p *OperatorPool) Register(bus *MessageBus) {
	bus.RegisterReplicated(MsgFraudAlert, GroupCallCenter, p.size, p.Operator)
}

// Operator returns the handler of operator n
func (p *OperatorPool) Operator(n int) MessageHandler {
	logger := p.logger.With(zap.Int("operator", n))
	return func(ctx context.Context, msg *ReceivedMessage) error {
		var alert FraudAlertMessage
		if err := json.Unmarshal(msg.Value, &alert); err != nil {
			return fmt.Errorf("failed to unmarshal fraud alert: %w", err)
		}

		logger.Info("Calling client",
			zap.String("transfer_id", alert.TransferID.String()),
			zap.String("risk_level", alert.RiskLevel),
			zap.String("transfer_status", alert.TransferStatus),
			zap.String("alert", alert.Message),
			zap.Int("partition", msg.Partition))

		if err := p.sleep(ctx, p.callDuration); err != nil {
			logger.Warn("Call interrupted", zap.String("transfer_id", alert.TransferID.String()))
			return err
		}

		logger.Info("Call finished", zap.String("transfer_id", alert.TransferID.String()))
		return nil
	}
}
