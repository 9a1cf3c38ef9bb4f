package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/libs/kafka"
	"github.com/AfshinJalili/libris/services/library/internal/storage"
	"github.com/google/uuid"
)

const (
	msgNotAvailable     = "Book is not currently available. Use advance lending to reserve."
	msgInvalidStartDate = "Invalid start_date format. Use YYYY-MM-DD"
	msgLendingNotFound  = "Lending not found"
)

type LendingStore interface {
	CreateLending(ctx context.Context, l storage.Lending) (*storage.Lending, error)
	GetLending(ctx context.Context, id uuid.UUID) (*storage.Lending, error)
	EarliestActiveLending(ctx context.Context, bookID uuid.UUID) (*storage.Lending, error)
	ReservationForBook(ctx context.Context, bookID uuid.UUID) (*storage.Lending, error)
	ListUserLendings(ctx context.Context, userID uuid.UUID) ([]storage.LendingWithBook, error)
	TransitionLending(ctx context.Context, id uuid.UUID, from, to string, returnDate *time.Time) (*storage.Lending, error)
	ListDueReservations(ctx context.Context, today time.Time, limit int) ([]storage.Lending, error)
}

type LendingConfig struct {
	Durations      []int
	MaxAdvanceDays int
	Location       *time.Location
	Topic          string
}

type LendRequest struct {
	BookID       string
	DurationDays int
	// StartDate is empty for an immediate loan.
	StartDate string
}

type DashboardItem struct {
	Lending       storage.Lending
	Book          storage.Book
	DaysRemaining *int
	IsOverdue     bool
}

type Dashboard struct {
	Active        []DashboardItem
	Reserved      []DashboardItem
	History       []DashboardItem
	TotalBorrowed int
}

type LendingService struct {
	catalog  *CatalogService
	lendings LendingStore
	events   eventPublisher
	cfg      LendingConfig
	clock    Clock
	logger   *slog.Logger
	metrics  *Metrics
}

func NewLendingService(catalog *CatalogService, lendings LendingStore, publisher kafka.Publisher, cfg LendingConfig, clock Clock, logger *slog.Logger, metrics *Metrics) *LendingService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if len(cfg.Durations) == 0 {
		cfg.Durations = []int{5, 8}
	}
	if cfg.MaxAdvanceDays <= 0 {
		cfg.MaxAdvanceDays = 90
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Topic == "" {
		cfg.Topic = "lending.events"
	}
	return &LendingService{
		catalog:  catalog,
		lendings: lendings,
		events:   eventPublisher{publisher: publisher, topic: cfg.Topic, logger: logger},
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *LendingService) today() time.Time {
	return civilDay(s.clock.Now(), s.cfg.Location)
}

// Lend starts a loan today when no start date is given or it is not in the
// future, and books a reservation otherwise.
func (s *LendingService) Lend(ctx context.Context, userID uuid.UUID, req LendRequest) (*storage.Lending, error) {
	// Request shape is checked before the book is resolved, so a bad
	// duration on an unknown book is InvalidInput, not NotFound.
	if !slices.Contains(s.cfg.Durations, req.DurationDays) {
		return nil, apperr.Invalid("Invalid duration_days", []apperr.FieldError{{
			Field:   "duration_days",
			Message: "must be one of " + joinInts(s.cfg.Durations),
		}})
	}

	book, err := s.catalog.FindBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}

	start, err := parseStartDate(req.StartDate, s.cfg.Location)
	if err != nil {
		return nil, err
	}

	today := s.today()
	if start == nil || !start.After(today) {
		return s.lendNow(ctx, userID, book, today, req.DurationDays)
	}
	return s.reserve(ctx, userID, book, *start, today, req.DurationDays)
}

func parseStartDate(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if day, err := time.Parse(dateLayout, raw); err == nil {
		return &day, nil
	}
	// Full timestamps are accepted and reduced to their calendar day. One
	// without an offset is read in the lending timezone.
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		day := civilDay(ts, loc)
		return &day, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if ts, err := time.ParseInLocation(localTimestampLayout, raw, loc); err == nil {
		day := civilDay(ts, loc)
		return &day, nil
	}
	return nil, apperr.Invalid(msgInvalidStartDate, []apperr.FieldError{{Field: "start_date", Message: "must be YYYY-MM-DD"}})
}

func (s *LendingService) lendNow(ctx context.Context, userID uuid.UUID, book *storage.Book, today time.Time, days int) (*storage.Lending, error) {
	ok, err := s.catalog.TakeCopy(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.lendingOp("lend_immediate", "unavailable")
		return nil, apperr.Conflict(msgNotAvailable)
	}

	lending, err := s.lendings.CreateLending(ctx, storage.Lending{
		ID:            uuid.New(),
		UserID:        userID,
		BookID:        book.ID,
		BookTitle:     book.Title,
		LendStartDate: today,
		LendEndDate:   addDays(today, days),
		Status:        storage.StatusActive,
	})
	if err != nil {
		s.logger.Error("create lending failed, restoring copy", "book_id", book.ID, "error", err)
		s.restoreCopy(ctx, book.ID)
		s.metrics.lendingOp("lend_immediate", "error")
		return nil, apperr.Internal(err)
	}

	s.metrics.lendingOp("lend_immediate", "ok")
	s.events.publish(ctx, EventLendingCreated, lending)
	return lending, nil
}

// restoreCopy gives back a copy taken for a loan that was never recorded.
// It runs even if the request context is already cancelled.
func (s *LendingService) restoreCopy(ctx context.Context, bookID uuid.UUID) {
	if err := s.catalog.AdjustAvailableCopies(context.WithoutCancel(ctx), bookID, 1); err != nil {
		s.logger.Error("restore copy failed", "book_id", bookID, "error", err)
		return
	}
	s.metrics.copyRestored()
}

func (s *LendingService) reserve(ctx context.Context, userID uuid.UUID, book *storage.Book, start, today time.Time, days int) (*storage.Lending, error) {
	if !start.After(today) {
		return nil, apperr.Conflict("Start date must be in the future for advance lending")
	}
	if start.After(addDays(today, s.cfg.MaxAdvanceDays)) {
		return nil, apperr.Invalid(fmt.Sprintf("Start date cannot be more than %d days ahead", s.cfg.MaxAdvanceDays),
			[]apperr.FieldError{{Field: "start_date", Message: "too far in the future"}})
	}

	active, err := s.lendings.EarliestActiveLending(ctx, book.ID)
	switch {
	case err == nil:
		if start.Before(active.LendEndDate) {
			s.metrics.lendingOp("lend_advance", "blocked")
			until := formatDate(active.LendEndDate)
			return nil, apperr.Conflict(fmt.Sprintf("Book is borrowed until %s. Please select %s or later.", until, until))
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Error("active lending lookup failed", "book_id", book.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	existing, err := s.lendings.ReservationForBook(ctx, book.ID)
	switch {
	case err == nil:
		s.metrics.lendingOp("lend_advance", "already_reserved")
		return nil, alreadyReserved(existing)
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Error("reservation lookup failed", "book_id", book.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	lending, err := s.lendings.CreateLending(ctx, storage.Lending{
		ID:            uuid.New(),
		UserID:        userID,
		BookID:        book.ID,
		BookTitle:     book.Title,
		LendStartDate: start,
		LendEndDate:   addDays(start, days),
		Status:        storage.StatusReserved,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.metrics.lendingOp("lend_advance", "already_reserved")
			return nil, alreadyReserved(nil)
		}
		s.logger.Error("create reservation failed", "book_id", book.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	s.metrics.lendingOp("lend_advance", "ok")
	s.events.publish(ctx, EventLendingCreated, lending)
	return lending, nil
}

func alreadyReserved(existing *storage.Lending) error {
	if existing == nil {
		return apperr.Conflict("Book is already reserved. Only one advance reservation allowed per book.")
	}
	return apperr.Conflict(fmt.Sprintf("Book is already reserved starting %s. Only one advance reservation allowed per book.",
		formatDate(existing.LendStartDate)))
}

// Dashboard buckets every lending of userID by status. Lendings whose book
// was deleted are left out of the buckets but still counted.
func (s *LendingService) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	rows, err := s.lendings.ListUserLendings(ctx, userID)
	if err != nil {
		s.logger.Error("list user lendings failed", "user_id", userID, "error", err)
		return nil, apperr.Internal(err)
	}

	today := s.today()
	out := &Dashboard{
		Active:        []DashboardItem{},
		Reserved:      []DashboardItem{},
		History:       []DashboardItem{},
		TotalBorrowed: len(rows),
	}
	for _, row := range rows {
		if row.Book == nil {
			continue
		}
		item := DashboardItem{Lending: row.Lending, Book: *row.Book}
		remaining := daysBetween(today, row.LendEndDate)
		if remaining >= 0 {
			item.DaysRemaining = &remaining
		}
		item.IsOverdue = remaining < 0 && row.Status == storage.StatusActive

		switch row.Status {
		case storage.StatusActive:
			out.Active = append(out.Active, item)
		case storage.StatusReserved:
			out.Reserved = append(out.Reserved, item)
		default:
			out.History = append(out.History, item)
		}
	}
	return out, nil
}

// Return closes an active loan of userID and puts the copy back.
func (s *LendingService) Return(ctx context.Context, userID uuid.UUID, rawID string) (*storage.Lending, error) {
	lending, err := s.ownedLending(ctx, userID, rawID)
	if err != nil {
		return nil, err
	}
	if lending.Status != storage.StatusActive {
		return nil, apperr.Conflict("Only active lendings can be returned")
	}

	today := s.today()
	returned, err := s.lendings.TransitionLending(ctx, lending.ID, storage.StatusActive, storage.StatusReturned, &today)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.lendingOp("return", "conflict")
			return nil, apperr.Conflict("Only active lendings can be returned")
		}
		s.logger.Error("return lending failed", "lending_id", lending.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	if err := s.catalog.AdjustAvailableCopies(context.WithoutCancel(ctx), returned.BookID, 1); err != nil {
		// The loan is closed either way; a missing book has nowhere to
		// take the copy back.
		s.logger.Warn("return copy not restored", "book_id", returned.BookID, "lending_id", returned.ID, "error", err)
	}

	s.metrics.lendingOp("return", "ok")
	s.events.publish(ctx, EventLendingReturned, returned)
	return returned, nil
}

// CancelReservation withdraws a reservation of userID. No copy was taken
// for it, so the count is untouched.
func (s *LendingService) CancelReservation(ctx context.Context, userID uuid.UUID, rawID string) (*storage.Lending, error) {
	lending, err := s.ownedLending(ctx, userID, rawID)
	if err != nil {
		return nil, err
	}
	if lending.Status != storage.StatusReserved {
		return nil, apperr.Conflict("Only reserved lendings can be cancelled")
	}

	cancelled, err := s.lendings.TransitionLending(ctx, lending.ID, storage.StatusReserved, storage.StatusCancelled, nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.lendingOp("cancel", "conflict")
			return nil, apperr.Conflict("Only reserved lendings can be cancelled")
		}
		s.logger.Error("cancel reservation failed", "lending_id", lending.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	s.metrics.lendingOp("cancel", "ok")
	s.events.publish(ctx, EventLendingCancelled, cancelled)
	return cancelled, nil
}

func (s *LendingService) ownedLending(ctx context.Context, userID uuid.UUID, rawID string) (*storage.Lending, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, apperr.InvalidInput("Invalid lending ID")
	}
	lending, err := s.lendings.GetLending(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound(msgLendingNotFound)
		}
		s.logger.Error("get lending failed", "lending_id", id, "error", err)
		return nil, apperr.Internal(err)
	}
	if lending.UserID != userID {
		return nil, apperr.NotFound(msgLendingNotFound)
	}
	return lending, nil
}

// PromoteDueReservations activates reservations whose start date has come,
// taking a copy for each. A reservation without a free copy stays reserved
// for the next pass, and one whose window has already ended is cancelled.
// Every step is conditional, so concurrent passes cannot promote the same
// reservation twice or leak a copy.
func (s *LendingService) PromoteDueReservations(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	today := s.today()
	due, err := s.lendings.ListDueReservations(ctx, today, limit)
	if err != nil {
		return 0, fmt.Errorf("list due reservations: %w", err)
	}

	promoted := 0
	for i := range due {
		if ctx.Err() != nil {
			return promoted, ctx.Err()
		}
		r := &due[i]

		if !r.LendEndDate.After(today) {
			s.expireReservation(ctx, r)
			continue
		}

		ok, err := s.catalog.TakeCopy(ctx, r.BookID)
		if err != nil {
			s.metrics.promotion("error")
			continue
		}
		if !ok {
			s.metrics.promotion("waiting")
			continue
		}

		activated, err := s.lendings.TransitionLending(ctx, r.ID, storage.StatusReserved, storage.StatusActive, nil)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.logger.Error("activate reservation failed", "lending_id", r.ID, "error", err)
			}
			s.restoreCopy(ctx, r.BookID)
			s.metrics.promotion("lost")
			continue
		}

		promoted++
		s.metrics.promotion("promoted")
		s.logger.Info("reservation promoted", "lending_id", activated.ID, "book_id", activated.BookID)
		s.events.publish(ctx, EventLendingActivated, activated)
	}
	return promoted, nil
}

func (s *LendingService) expireReservation(ctx context.Context, r *storage.Lending) {
	cancelled, err := s.lendings.TransitionLending(ctx, r.ID, storage.StatusReserved, storage.StatusCancelled, nil)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("expire reservation failed", "lending_id", r.ID, "error", err)
		}
		return
	}
	s.metrics.promotion("expired")
	s.logger.Info("reservation expired unfulfilled", "lending_id", cancelled.ID, "book_id", cancelled.BookID)
	s.events.publish(ctx, EventLendingCancelled, cancelled)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
