package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bop4yH/wallet/pkg/models"
)

// DeadLetter is an event that could not be delivered.
type DeadLetter struct {
	Topic     Topic
	Key       string
	Message   interface{}
	LastError error
	Attempts  int
}

// DeadLetterSink keeps events whose publication exhausted every retry.
type DeadLetterSink interface {
	Store(ctx context.Context, dl DeadLetter) error
}

// DBDeadLetterSink writes dead letters to the dead_letter_events table so they can be replayed.
type DBDeadLetterSink struct {
	db *gorm.DB
}

func NewDBDeadLetterSink(db *gorm.DB) *DBDeadLetterSink {
	return &DBDeadLetterSink{db: db}
}

func (s *DBDeadLetterSink) Store(ctx context.Context, dl DeadLetter) error {
	payload, err := json.Marshal(dl.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	row := models.DeadLetterEvent{
		ID:        uuid.New(),
		Topic:     string(dl.Topic),
		Key:       dl.Key,
		Payload:   string(payload),
		Attempts:  dl.Attempts,
		CreatedAt: time.Now().UTC(),
	}
	if dl.LastError != nil {
		row.LastError = dl.LastError.Error()
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// List returns the newest dead letters first.
func (s *DBDeadLetterSink) List(ctx context.Context, limit int) ([]models.DeadLetterEvent, error) {
	var rows []models.DeadLetterEvent
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// LogDeadLetterSink only logs; used when no database is wired.
type LogDeadLetterSink struct {
	logger *zap.Logger
}

func NewLogDeadLetterSink(logger *zap.Logger) *LogDeadLetterSink {
	return &LogDeadLetterSink{logger: logger.Named("dead-letter")}
}

func (s *LogDeadLetterSink) Store(_ context.Context, dl DeadLetter) error {
	s.logger.Error("Event dropped after retries",
		zap.String("topic", string(dl.Topic)),
		zap.String("key", dl.Key),
		zap.Int("attempts", dl.Attempts),
		zap.Any("message", dl.Message),
		zap.Error(dl.LastError))
	return nil
}
