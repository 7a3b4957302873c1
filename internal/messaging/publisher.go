package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/internal/backoff"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/metrics"
)

// RetryPolicy is an exponential backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Minute}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// EventPublisher delivers wallet events to Kafka through a circuit breaker.
// Transfer notifications are sent in the background with retries; events that
// still fail go to the dead letter sink.
type EventPublisher struct {
	producer Producer
	breaker  *gobreaker.CircuitBreaker
	policy   RetryPolicy
	sink     DeadLetterSink
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEventPublisher(producer Producer, policy RetryPolicy, sink DeadLetterSink, logger *zap.Logger) *EventPublisher {
	logger = logger.Named("event-publisher")
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventPublisher{
		producer: producer,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kafka-producer",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		policy: policy,
		sink:   sink,
		logger: logger,
		sleep:  backoff.SleepWithContext,
		ctx:    ctx,
		cancel: cancel,
	}
}

// PublishTransferCompleted sends the event asynchronously; it never blocks the caller.
func (p *EventPublisher) PublishTransferCompleted(event TransferCompletedEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.deliver(TopicTransferNotifications, event.TransferID.String(), event)
	}()
}

// PublishFraudAlert sends an alert synchronously with a single attempt.
func (p *EventPublisher) PublishFraudAlert(ctx context.Context, alert FraudAlertMessage) error {
	topic := TopicFraudAlerts
	if err := p.publishOnce(ctx, topic, alert.TransferID.String(), alert); err != nil {
		metrics.EventPublishTotal.WithLabelValues(string(topic), "failed").Inc()
		return errors.TransportFailure.Explain("failed to publish fraud alert for transfer %s", alert.TransferID).Wrap(err)
	}
	metrics.EventPublishTotal.WithLabelValues(string(topic), "published").Inc()
	return nil
}

func (p *EventPublisher) publishOnce(ctx context.Context, topic Topic, key string, message interface{}) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.producer.Publish(ctx, topic, key, message)
	})
	return err
}

func (p *EventPublisher) deliver(topic Topic, key string, message interface{}) {
	var lastErr error
	attempts := 0
	for attempts < p.policy.MaxAttempts {
		attempts++
		lastErr = p.publishOnce(p.ctx, topic, key, message)
		if lastErr == nil {
			metrics.EventPublishTotal.WithLabelValues(string(topic), "published").Inc()
			p.logger.Debug("Event published", zap.String("topic", string(topic)), zap.String("key", key), zap.Int("attempt", attempts))
			return
		}
		if attempts == p.policy.MaxAttempts {
			break
		}

		delay := p.policy.Delay(attempts)
		metrics.EventPublishTotal.WithLabelValues(string(topic), "retried").Inc()
		p.logger.Warn("Event publish failed, retrying",
			zap.String("topic", string(topic)),
			zap.String("key", key),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))
		if err := p.sleep(p.ctx, delay); err != nil {
			// publisher is shutting down
			break
		}
	}

	metrics.EventPublishTotal.WithLabelValues(string(topic), "dead_lettered").Inc()
	p.logger.Error("Event publish gave up",
		zap.String("topic", string(topic)),
		zap.String("key", key),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.sink.Store(storeCtx, DeadLetter{
		Topic:     topic,
		Key:       key,
		Message:   message,
		LastError: lastErr,
		Attempts:  attempts,
	}); err != nil {
		p.logger.Error("Failed to store dead letter", zap.String("key", key), zap.Error(err))
	}
}

// Wait blocks until every in-flight publication has been delivered or dead-lettered.
func (p *EventPublisher) Wait() {
	p.wg.Wait()
}

// Shutdown waits for in-flight publications until ctx expires, then aborts their
// retries so they are dead-lettered immediately.
func (p *EventPublisher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
