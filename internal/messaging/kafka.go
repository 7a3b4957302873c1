package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/internal/backoff"
)

// KafkaConfig contains configuration for Kafka connection
type KafkaConfig struct {
	Brokers             []string      `json:"brokers"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	BatchTimeout        time.Duration `json:"batch_timeout"`
	RequiredAcks        int           `json:"required_acks"`
	Compression         string        `json:"compression"`
	ConsumerGroupPrefix string        `json:"consumer_group_prefix"`
	MaxMessageBytes     int           `json:"max_message_bytes"`
	// HandlerRetries is how many extra times a failing handler is re-run before the offset is committed anyway
	HandlerRetries int           `json:"handler_retries"`
	HandlerBackoff time.Duration `json:"handler_backoff"`
}

// DefaultKafkaConfig returns defaults that favour durability over latency
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:         []string{"localhost:9092"},
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    5 * time.Second,
		BatchTimeout:    10 * time.Millisecond,
		RequiredAcks:    int(kafka.RequireAll),
		Compression:     "snappy",
		MaxMessageBytes: 1048576, // 1MB
		HandlerRetries:  3,
		HandlerBackoff:  time.Second,
	}
}

// Producer interface defines message publishing operations
type Producer interface {
	Publish(ctx context.Context, topic Topic, key string, message interface{}) error
	Close() error
}

// Consumer interface defines message consumption operations.
// Subscribe blocks until ctx is cancelled or the reader fails permanently.
type Consumer interface {
	Subscribe(ctx context.Context, topic Topic, groupID string, handler MessageHandler) error
	Close() error
}

// MessageHandler defines the callback function for processing messages
type MessageHandler func(ctx context.Context, msg *ReceivedMessage) error

// ReceivedMessage represents a received message with metadata
type ReceivedMessage struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string][]byte
	Offset    int64
	Partition int
	Timestamp time.Time
}

// KafkaProducer implements Producer interface
type KafkaProducer struct {
	config  *KafkaConfig
	writers map[Topic]*kafka.Writer
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewKafkaProducer creates a new Kafka producer
func NewKafkaProducer(config *KafkaConfig, logger *zap.Logger) *KafkaProducer {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	return &KafkaProducer{
		config:  config,
		writers: make(map[Topic]*kafka.Writer),
		logger:  logger.Named("kafka-producer"),
	}
}

// getWriter returns or creates a writer for the specified topic
func (p *KafkaProducer) getWriter(topic Topic) *kafka.Writer {
	p.mu.RLock()
	writer, exists := p.writers[topic]
	p.mu.RUnlock()

	if exists {
		return writer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check pattern
	if writer, exists := p.writers[topic]; exists {
		return writer
	}

	writer = &kafka.Writer{
		Addr: kafka.TCP(p.config.Brokers...),
		// keyed by transfer id so all messages of one transfer stay on one partition
		Topic:        string(topic),
		Balancer:     &kafka.CRC32Balancer{},
		BatchTimeout: p.config.BatchTimeout,
		ReadTimeout:  p.config.ReadTimeout,
		WriteTimeout: p.config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		// retries are owned by EventPublisher
		MaxAttempts: 1,
		BatchBytes:  int64(p.config.MaxMessageBytes),
	}

	switch p.config.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	case "none":
	default:
		writer.Compression = kafka.Snappy
	}

	p.writers[topic] = writer
	return writer
}

// Publish synchronously writes a single JSON-encoded message
func (p *KafkaProducer) Publish(ctx context.Context, topic Topic, key string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return p.getWriter(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

// Close closes the producer and all its writers
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			lastErr = err
			p.logger.Error("Failed to close writer", zap.Error(err), zap.String("topic", string(topic)))
		}
	}
	return lastErr
}

// KafkaConsumer implements Consumer interface
type KafkaConsumer struct {
	config  *KafkaConfig
	readers []*kafka.Reader
	logger  *zap.Logger
	mu      sync.Mutex
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(config *KafkaConfig, logger *zap.Logger) *KafkaConsumer {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	return &KafkaConsumer{
		config: config,
		logger: logger.Named("kafka-consumer"),
		sleep:  backoff.SleepWithContext,
	}
}

func (c *KafkaConsumer) groupID(groupID string) string {
	if c.config.ConsumerGroupPrefix == "" {
		return groupID
	}
	return fmt.Sprintf("%s-%s", c.config.ConsumerGroupPrefix, groupID)
}

// Subscribe joins groupID on topic and feeds every message to handler.
// Offsets are committed only after the handler returned, so a crash redelivers.
// Each call opens its own reader; several calls with the same group share the partitions.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic Topic, groupID string, handler MessageHandler) error {
	fullGroupID := c.groupID(groupID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.config.Brokers,
		Topic:    string(topic),
		GroupID:  fullGroupID,
		MaxBytes: c.config.MaxMessageBytes,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			c.logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()
	defer reader.Close()

	c.logger.Info("Consumer subscribed", zap.String("topic", string(topic)), zap.String("group", fullGroupID))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("Failed to read message", zap.Error(err), zap.String("group", fullGroupID))
			if err := c.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		received := &ReceivedMessage{
			Topic:     msg.Topic,
			Key:       string(msg.Key),
			Value:     msg.Value,
			Headers:   make(map[string][]byte, len(msg.Headers)),
			Offset:    msg.Offset,
			Partition: msg.Partition,
			Timestamp: msg.Time,
		}
		for _, header := range msg.Headers {
			received.Headers[header.Key] = header.Value
		}

		c.handle(ctx, received, handler)
		if ctx.Err() != nil {
			// shutting down mid-message: leave the offset uncommitted for redelivery
			return nil
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("Failed to commit offset",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset))
		}
	}
}

// handle runs handler, retrying failures HandlerRetries times before giving up on the message.
func (c *KafkaConsumer) handle(ctx context.Context, msg *ReceivedMessage, handler MessageHandler) {
	for attempt := 0; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return
		}
		if attempt >= c.config.HandlerRetries || ctx.Err() != nil {
			c.logger.Error("Message handler failed",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.String("key", msg.Key),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt+1))
			return
		}
		c.logger.Warn("Message handler failed, retrying",
			zap.Error(err),
			zap.String("key", msg.Key),
			zap.Int("attempt", attempt+1))
		if c.sleep(ctx, c.config.HandlerBackoff) != nil {
			return
		}
	}
}

// Close closes all consumer readers
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
			c.logger.Error("Failed to close reader", zap.Error(err), zap.String("group", reader.Config().GroupID))
		}
	}
	c.readers = nil
	return lastErr
}

// TopicSpec describes a topic EnsureTopics should create.
type TopicSpec struct {
	Topic      Topic
	Partitions int
}

// DefaultTopics lists the wallet topics with their partition counts.
func DefaultTopics(alertPartitions int) []TopicSpec {
	if alertPartitions < 1 {
		alertPartitions = FraudAlertsPartitions
	}
	return []TopicSpec{
		{Topic: TopicTransferNotifications, Partitions: 1},
		{Topic: TopicFraudAlerts, Partitions: alertPartitions},
	}
}

// EnsureTopics creates missing topics through the cluster controller. Existing topics are left alone.
func EnsureTopics(ctx context.Context, brokers []string, specs []TopicSpec) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	var dialer kafka.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find kafka controller: %w", err)
	}
	ctrl, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, s := range specs {
		configs = append(configs, kafka.TopicConfig{
			Topic:             string(s.Topic),
			NumPartitions:     s.Partitions,
			ReplicationFactor: 1,
		})
	}
	if err := ctrl.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}
