package consumer

import (
	"context"
	"log/slog"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	// Code is kept apart from Body so transports can decide whether to log it.
	Code string
}

// Mailer delivers a rendered message. Errors are treated as transient and
// the event is retried.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the structured log instead of sending them.
type LogMailer struct {
	logger      *slog.Logger
	revealCodes bool
}

func NewLogMailer(logger *slog.Logger, revealCodes bool) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger, revealCodes: revealCodes}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	attrs := []any{"from", msg.From, "to", msg.To, "subject", msg.Subject}
	if m.revealCodes {
		attrs = append(attrs, "code", msg.Code)
	}
	m.logger.Info("mail delivered", attrs...)
	return nil
}
