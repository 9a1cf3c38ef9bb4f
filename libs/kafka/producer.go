package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
)

// Record headers set on every event that embeds an Envelope, so consumers
// and the dead-letter topic can route without decoding the body.
const (
	HeaderContentType   = "content-type"
	HeaderEventType     = "event-type"
	HeaderEventID       = "event-id"
	HeaderCorrelationID = "correlation-id"
)

type ProducerMetrics struct {
	Published *prometheus.CounterVec
	Latency   prometheus.Histogram
}

func NewProducerMetrics(registry *prometheus.Registry) *ProducerMetrics {
	m := &ProducerMetrics{
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_publish_total",
				Help: "Kafka publish attempts by topic, event type and outcome.",
			},
			[]string{"topic", "event_type", "status"},
		),
		Latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kafka_publish_latency_seconds",
				Help:    "Time spent waiting for broker acknowledgement.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	registry.MustRegister(m.Published, m.Latency)
	return m
}

func (m *ProducerMetrics) observe(topic, eventType string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.Published.WithLabelValues(topic, eventType, status).Inc()
	m.Latency.Observe(elapsed.Seconds())
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

// LogPublisher stands in for Kafka when no brokers are configured. It
// records each event at debug level and never fails.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	attrs := []any{"topic", topic, "key", key}
	if env, ok := envelopeOf(value); ok {
		attrs = append(attrs, "event_type", env.EventType, "event_id", env.EventID)
	}
	p.logger.DebugContext(ctx, "event not published, kafka disabled", attrs...)
	return 0, 0, nil
}

func (p *LogPublisher) Close() error { return nil }

// DLQPublisher copies events the primary publisher rejects to a dead-letter
// topic. The original error is still returned to the caller.
type DLQPublisher struct {
	primary  Publisher
	dlq      Publisher
	dlqTopic string
	logger   *slog.Logger
}

func NewDLQPublisher(primary Publisher, dlq Publisher, dlqTopic string, logger *slog.Logger) *DLQPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQPublisher{primary: primary, dlq: dlq, dlqTopic: dlqTopic, logger: logger}
}

func (p *DLQPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if p == nil || p.primary == nil {
		return 0, 0, fmt.Errorf("kafka producer not configured")
	}
	partition, offset, err := p.primary.PublishJSON(ctx, topic, key, value)
	if err == nil || p.dlq == nil || p.dlqTopic == "" {
		return partition, offset, err
	}
	if _, _, dlqErr := p.dlq.PublishJSON(ctx, p.dlqTopic, key, publishDeadLetter(topic, key, value, err)); dlqErr != nil {
		p.logger.Error("publish dlq failed", "topic", p.dlqTopic, "original_topic", topic, "error", dlqErr)
	}
	return partition, offset, err
}

func (p *DLQPublisher) Close() error {
	if p == nil || p.primary == nil {
		return nil
	}
	return p.primary.Close()
}

type ProducerConfig struct {
	Brokers []string
	// ClientID shows up in broker logs and quotas; services pass their name.
	ClientID string
}

// SyncProducer waits for all in-sync replicas before returning, with
// idempotence on so producer retries cannot duplicate an event.
type SyncProducer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
	metrics  *ProducerMetrics
}

func NewSyncProducer(pc ProducerConfig, logger *slog.Logger, metrics *ProducerMetrics) (*SyncProducer, error) {
	if len(pc.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	if pc.ClientID != "" {
		cfg.ClientID = pc.ClientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(pc.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &SyncProducer{producer: producer, logger: logger, metrics: metrics}, nil
}

func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	msg, err := buildMessage(topic, key, value)
	if err != nil {
		return 0, 0, err
	}
	eventType := headerOf(msg, HeaderEventType)

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.observe(topic, eventType, err, time.Since(start))
	if err != nil {
		p.logger.ErrorContext(ctx, "kafka publish failed", "topic", topic, "event_type", eventType, "error", err)
		return 0, 0, fmt.Errorf("kafka publish failed: %w", err)
	}
	return partition, offset, nil
}

func (p *SyncProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

func buildMessage(topic, key string, value any) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal kafka payload: %w", err)
	}
	headers := []sarama.RecordHeader{{Key: []byte(HeaderContentType), Value: []byte("application/json")}}
	if env, ok := envelopeOf(value); ok {
		headers = append(headers,
			sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(env.EventType)},
			sarama.RecordHeader{Key: []byte(HeaderEventID), Value: []byte(env.EventID)},
		)
		if env.CorrelationID != "" {
			headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderCorrelationID), Value: []byte(env.CorrelationID)})
		}
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: headers,
	}, nil
}

func headerOf(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func envelopeOf(value any) (Envelope, bool) {
	carrier, ok := value.(interface{ GetEnvelope() Envelope })
	if !ok {
		return Envelope{}, false
	}
	return carrier.GetEnvelope(), true
}
