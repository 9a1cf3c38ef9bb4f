package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:        group,
		logger:       logger,
		retryTracker: newRetryTracker(3, 5*time.Second),
	}, nil
}

// WithDLQ routes messages that cannot be handled to topic via publisher.
func (c *Consumer) WithDLQ(publisher Publisher, topic string) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	return c
}

// WithRetries bounds how many times a failing message is retried before it
// is dead-lettered.
func (c *Consumer) WithRetries(maxAttempts int, maxBackoff time.Duration) *Consumer {
	c.retryTracker = newRetryTracker(maxAttempts, maxBackoff)
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: c.retryTracker,
	}

	go drainErrors(ctx, c.group.Errors(), c.logger)

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// drainErrors logs group errors until ctx ends or errs closes. With
// Consumer.Return.Errors set, sarama blocks once this channel fills.
func drainErrors(ctx context.Context, errs <-chan error, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Error("kafka consumer group error", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type retryTracker struct {
	maxAttempts int
	maxBackoff  time.Duration
}

func newRetryTracker(maxAttempts int, maxBackoff time.Duration) *retryTracker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryTracker{maxAttempts: maxAttempts, maxBackoff: maxBackoff}
}

// backoff returns the wait before the given retry attempt and whether a
// retry is allowed at all.
func (r *retryTracker) backoff(attempt int) (time.Duration, bool) {
	if attempt >= r.maxAttempts {
		return 0, false
	}
	wait := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
	if wait > r.maxBackoff {
		wait = r.maxBackoff
	}
	return wait, true
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session.Context(), msg) {
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// process reports false only when the session ended mid-retry; the message
// is then left unmarked for redelivery.
func (h *consumerGroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	tracker := h.retryTracker
	if tracker == nil {
		tracker = newRetryTracker(1, 0)
	}

	for attempt := 1; ; attempt++ {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			return true
		}

		var dlqErr *DLQError
		if errors.As(err, &dlqErr) {
			h.deadLetter(ctx, msg, dlqErr, attempt)
			return true
		}

		wait, retry := tracker.backoff(attempt)
		if !retry {
			h.deadLetter(ctx, msg, &DLQError{Err: err, Reason: "retries_exhausted"}, attempt)
			return true
		}

		h.logger.Warn("kafka message handler error, retrying", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (h *consumerGroupHandler) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, err *DLQError, attempts int) {
	h.logger.Error("kafka message dead-lettered", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
		"event_type", headerValue(msg.Headers, HeaderEventType), "reason", err.Reason, "error", err.Err)
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		return
	}
	if _, _, pubErr := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), consumeDeadLetter(msg, err, attempts)); pubErr != nil {
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "error", pubErr)
	}
}
