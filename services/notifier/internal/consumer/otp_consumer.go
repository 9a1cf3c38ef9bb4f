package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/AfshinJalili/libris/libs/kafka"
	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	otpIssuedEventType = "otp.issued"

	purposeEmailVerification = "email_verification"
	purposePasswordReset     = "password_reset"

	recentEventsCap = 1024
)

// OTPIssuedEvent mirrors the event the auth service publishes when a code is
// generated.
type OTPIssuedEvent struct {
	kafka.Envelope
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

func (e *OTPIssuedEvent) Validate() error {
	if _, err := mail.ParseAddress(e.Email); err != nil {
		return fmt.Errorf("invalid email: %w", err)
	}
	if e.Purpose != purposeEmailVerification && e.Purpose != purposePasswordReset {
		return fmt.Errorf("unknown purpose %q", e.Purpose)
	}
	if len(e.Code) != 6 || strings.Trim(e.Code, "0123456789") != "" {
		return fmt.Errorf("code must be 6 digits")
	}
	if _, err := time.Parse(time.RFC3339, e.ExpiresAt); err != nil {
		return fmt.Errorf("invalid expires_at: %w", err)
	}
	return nil
}

func (e *OTPIssuedEvent) expiresAt() time.Time {
	t, _ := time.Parse(time.RFC3339, e.ExpiresAt)
	return t
}

type Metrics struct {
	Deliveries *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_otp_deliveries_total",
				Help: "OTP events handled by purpose and outcome.",
			},
			[]string{"purpose", "result"},
		),
	}
	registry.MustRegister(m.Deliveries)
	return m
}

func (m *Metrics) delivery(purpose, result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(purpose, result).Inc()
	}
}

type OTPConsumer struct {
	mailer  Mailer
	from    string
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	// recent holds ids of delivered events, evicting the oldest.
	recent *lru.Cache[string, struct{}]
}

func NewOTPConsumer(mailer Mailer, from string, logger *slog.Logger, metrics *Metrics) *OTPConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	recent, _ := lru.New[string, struct{}](recentEventsCap)
	return &OTPConsumer{
		mailer:  mailer,
		from:    from,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
		recent:  recent,
	}
}

func (c *OTPConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty")
	}

	var event OTPIssuedEvent
	if err := kafka.Decode(msg.Value, otpIssuedEventType, &event); err != nil {
		c.metrics.delivery("unknown", "rejected")
		return err
	}
	if err := event.Validate(); err != nil {
		c.metrics.delivery("unknown", "rejected")
		return kafka.DLQ(err, "invalid_payload")
	}

	if c.recent.Contains(event.EventID) {
		c.logger.Info("otp event already delivered", "event_id", event.EventID)
		c.metrics.delivery(event.Purpose, "duplicate")
		return nil
	}
	if !c.now().Before(event.expiresAt()) {
		c.logger.Warn("otp event expired before delivery", "event_id", event.EventID, "purpose", event.Purpose)
		c.metrics.delivery(event.Purpose, "expired")
		return nil
	}

	if err := c.mailer.Send(ctx, render(c.from, event)); err != nil {
		c.metrics.delivery(event.Purpose, "error")
		return fmt.Errorf("send otp mail: %w", err)
	}

	c.recent.Add(event.EventID, struct{}{})
	c.metrics.delivery(event.Purpose, "sent")
	c.logger.Info("otp delivered", "event_id", event.EventID, "purpose", event.Purpose, "correlation_id", event.CorrelationID)
	return nil
}

func render(from string, event OTPIssuedEvent) Message {
	subject := "Verify your Libris account"
	action := "verify your email address"
	if event.Purpose == purposePasswordReset {
		subject = "Reset your Libris password"
		action = "reset your password"
	}
	body := fmt.Sprintf("Use code %s to %s. The code expires at %s.", event.Code, action, event.ExpiresAt)
	return Message{From: from, To: event.Email, Subject: subject, Body: body, Code: event.Code}
}
