package messaging

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType defines the type of message being sent
type MessageType string

const (
	MsgTransferCompleted MessageType = "transfer.completed"
	MsgFraudAlert        MessageType = "fraud.alert"
)

// BaseMessage contains common fields for all messages
type BaseMessage struct {
	MessageID     string      `json:"message_id"`
	Type          MessageType `json:"type"`
	Timestamp     time.Time   `json:"timestamp"`
	Version       string      `json:"version"`
	Source        string      `json:"source"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// TransferCompletedEvent is emitted once a transfer has committed
type TransferCompletedEvent struct {
	BaseMessage
	TransferID    uuid.UUID       `json:"transfer_id"`
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToAccountID   uuid.UUID       `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// NewTransferCompletedEvent stamps a completion event for the given transfer
func NewTransferCompletedEvent(transferID, fromID, toID uuid.UUID, amount decimal.Decimal) TransferCompletedEvent {
	return TransferCompletedEvent{
		BaseMessage:   NewBaseMessage(MsgTransferCompleted, "transfer-service", transferID.String()),
		TransferID:    transferID,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
	}
}

// FraudAlertMessage carries a fraud analysis outcome to the call center
type FraudAlertMessage struct {
	BaseMessage
	TransferID       uuid.UUID       `json:"transfer_id"`
	RiskLevel        string          `json:"risk_level"`
	Reasons          []string        `json:"reasons"`
	SuspiciousAmount decimal.Decimal `json:"suspicious_amount"`
	Message          string          `json:"message"`
	TransferStatus   string          `json:"transfer_status"`
}

// Topic defines Kafka topics for different message types
type Topic string

const (
	TopicTransferNotifications Topic = "transfer-notifications"
	TopicFraudAlerts           Topic = "fraud-alerts"
)

// Consumer groups. Each group receives every message of its topic independently.
const (
	GroupSMS        = "wallet-sms-group"
	GroupFraud      = "wallet-fraud-analysis-group"
	GroupCallCenter = "call-center-group"
)

// FraudAlertsPartitions matches the default number of call-center operators.
const FraudAlertsPartitions = 5

// GetTopic returns the appropriate topic for a message type
func GetTopic(msgType MessageType) Topic {
	switch msgType {
	case MsgFraudAlert:
		return TopicFraudAlerts
	default:
		return TopicTransferNotifications
	}
}

// NewBaseMessage creates a new base message with common fields
func NewBaseMessage(msgType MessageType, source string, correlationID string) BaseMessage {
	return BaseMessage{
		MessageID:     uuid.New().String(),
		Type:          msgType,
		Timestamp:     time.Now().UTC(),
		Version:       "1.0",
		Source:        source,
		CorrelationID: correlationID,
	}
}
