package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/AfshinJalili/libris/libs/httpmiddleware"
	"github.com/AfshinJalili/libris/libs/kafka"
	"github.com/AfshinJalili/libris/services/library/internal/storage"
)

const (
	EventLendingCreated   = "lending.created"
	EventLendingActivated = "lending.activated"
	EventLendingReturned  = "lending.returned"
	EventLendingCancelled = "lending.cancelled"
)

type LendingEvent struct {
	kafka.Envelope
	LendingID        string  `json:"lending_id"`
	UserID           string  `json:"user_id"`
	BookID           string  `json:"book_id"`
	BookTitle        string  `json:"book_title"`
	Status           string  `json:"status"`
	LendStartDate    string  `json:"lend_start_date"`
	LendEndDate      string  `json:"lend_end_date"`
	ActualReturnDate *string `json:"actual_return_date,omitempty"`
}

type eventPublisher struct {
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
}

// publish emits a lending event keyed by book id so that one book's events
// stay ordered. Failures are logged only.
func (p eventPublisher) publish(ctx context.Context, eventType string, l *storage.Lending) {
	if p.publisher == nil || l == nil {
		return
	}
	eventID := kafka.DeterministicEventID(eventType, l.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, eventType, 1, httpmiddleware.RequestIDFromContext(ctx))
	if err != nil {
		p.logger.Error("build lending envelope failed", "event_type", eventType, "error", err)
		return
	}
	payload := LendingEvent{
		Envelope:      env,
		LendingID:     l.ID.String(),
		UserID:        l.UserID.String(),
		BookID:        l.BookID.String(),
		BookTitle:     l.BookTitle,
		Status:        l.Status,
		LendStartDate: l.LendStartDate.Format(dateLayout),
		LendEndDate:   l.LendEndDate.Format(dateLayout),
	}
	if l.ActualReturnDate != nil {
		d := l.ActualReturnDate.Format(dateLayout)
		payload.ActualReturnDate = &d
	}
	if _, _, err := p.publisher.PublishJSON(ctx, p.topic, l.BookID.String(), payload); err != nil {
		p.logger.Error("publish lending event failed", "event_type", eventType, "lending_id", l.ID, "error", err)
	}
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}
