package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// subscription is one consumer group on one topic, run by one or more readers
type subscription struct {
	topic    Topic
	groupID  string
	msgType  MessageType
	replicas int
	handler  func(replica int) MessageHandler
}

// MessageBus runs the wallet's consumer groups and owns the producer and consumer lifecycle
type MessageBus struct {
	producer Producer
	consumer Consumer
	logger   *zap.Logger
	subs     []subscription
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewMessageBus creates a new message bus instance
func NewMessageBus(producer Producer, consumer Consumer, logger *zap.Logger) *MessageBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &MessageBus{
		producer: producer,
		consumer: consumer,
		logger:   logger.Named("message-bus"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler subscribes handler to msgType under groupID
func (mb *MessageBus) RegisterHandler(msgType MessageType, groupID string, handler MessageHandler) {
	mb.RegisterReplicated(msgType, groupID, 1, func(int) MessageHandler { return handler })
}

// RegisterReplicated subscribes replicas readers to the same group. Kafka spreads the
// topic's partitions across them; factory receives the 1-based replica number.
func (mb *MessageBus) RegisterReplicated(msgType MessageType, groupID string, replicas int, factory func(replica int) MessageHandler) {
	if replicas < 1 {
		replicas = 1
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.subs = append(mb.subs, subscription{
		topic:    GetTopic(msgType),
		groupID:  groupID,
		msgType:  msgType,
		replicas: replicas,
		handler:  factory,
	})

	mb.logger.Info("Registered message handler",
		zap.String("type", string(msgType)),
		zap.String("group_id", groupID),
		zap.Int("replicas", replicas))
}

// Run consumes for every registered subscription until ctx is cancelled or Stop is called.
func (mb *MessageBus) Run(ctx context.Context) error {
	mb.mu.RLock()
	subs := append([]subscription(nil), mb.subs...)
	mb.mu.RUnlock()

	if len(subs) == 0 {
		mb.logger.Warn("No message handlers registered")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-mb.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		for replica := 1; replica <= sub.replicas; replica++ {
			sub, handler := sub, mb.typed(sub.msgType, sub.handler(replica))
			g.Go(func() error {
				return mb.consumer.Subscribe(gctx, sub.topic, sub.groupID, handler)
			})
		}
	}

	mb.logger.Info("Starting message consumers", zap.Int("subscriptions", len(subs)))
	return g.Wait()
}

// typed drops messages of another type and logs processing time
func (mb *MessageBus) typed(msgType MessageType, handler MessageHandler) MessageHandler {
	return func(ctx context.Context, msg *ReceivedMessage) error {
		start := time.Now()

		var baseMsg BaseMessage
		if err := parseJSON(msg.Value, &baseMsg); err != nil {
			// a poison message would otherwise be retried forever
			mb.logger.Error("Failed to parse message",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset))
			return nil
		}

		if baseMsg.Type != msgType {
			mb.logger.Debug("No handlers registered for message type",
				zap.String("type", string(baseMsg.Type)),
				zap.String("topic", msg.Topic))
			return nil
		}

		err := handler(ctx, msg)
		mb.logger.Debug("Message processed",
			zap.String("type", string(baseMsg.Type)),
			zap.String("message_id", baseMsg.MessageID),
			zap.Duration("duration", time.Since(start)),
			zap.Bool("success", err == nil))
		return err
	}
}

// Stop gracefully stops the message bus
func (mb *MessageBus) Stop() error {
	mb.logger.Info("Stopping message bus")

	mb.cancel()

	var producerErr, consumerErr error
	if mb.producer != nil {
		producerErr = mb.producer.Close()
	}
	if mb.consumer != nil {
		consumerErr = mb.consumer.Close()
	}

	if producerErr != nil {
		return producerErr
	}
	return consumerErr
}

// HealthCheck reports whether the bus is still running
func (mb *MessageBus) HealthCheck() error {
	select {
	case <-mb.ctx.Done():
		return fmt.Errorf("message bus is stopped")
	default:
		return nil
	}
}

func parseJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}
