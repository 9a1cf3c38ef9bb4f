package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/services/library/internal/storage"
	"github.com/google/uuid"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	maxQueryLength     = 200
	defaultListLimit   = 100
	maxListLimit       = 200
)

type BookStore interface {
	FindBook(ctx context.Context, id uuid.UUID) (*storage.Book, error)
	SearchRanked(ctx context.Context, query string, limit int) ([]storage.Book, error)
	SearchSubstring(ctx context.Context, query string, limit int) ([]storage.Book, error)
	ListBooks(ctx context.Context, limit int) ([]storage.Book, error)
	TakeCopy(ctx context.Context, id uuid.UUID) (bool, error)
	AddAvailableCopies(ctx context.Context, id uuid.UUID, delta int) error
	EarliestOpenLending(ctx context.Context, bookID uuid.UUID) (*storage.Lending, error)
}

type Availability struct {
	Book                     *storage.Book
	IsAvailable              bool
	NextAvailableDate        *time.Time
	CurrentLendingReturnDate *time.Time
}

type CatalogService struct {
	store   BookStore
	logger  *slog.Logger
	metrics *Metrics
}

func NewCatalogService(store BookStore, logger *slog.Logger, metrics *Metrics) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{store: store, logger: logger, metrics: metrics}
}

func parseBookID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("Invalid book ID")
	}
	return id, nil
}

func (s *CatalogService) FindBook(ctx context.Context, rawID string) (*storage.Book, error) {
	id, err := parseBookID(rawID)
	if err != nil {
		return nil, err
	}
	return s.findBook(ctx, id)
}

func (s *CatalogService) findBook(ctx context.Context, id uuid.UUID) (*storage.Book, error) {
	book, err := s.store.FindBook(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("Book not found")
		}
		s.logger.Error("find book failed", "book_id", id, "error", err)
		return nil, apperr.Internal(err)
	}
	return book, nil
}

// Search prefers relevance-ranked full-text matches. A failing ranked query
// or one without hits falls back to a substring match, so partial words
// still find books.
func (s *CatalogService) Search(ctx context.Context, query string, limit int) ([]storage.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidInput("Search query is required")
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		return nil, apperr.InvalidInput(fmt.Sprintf("Search query must be at most %d characters", maxQueryLength))
	}
	limit, err := normalizeLimit(limit, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		return nil, err
	}

	books, err := s.store.SearchRanked(ctx, query, limit)
	if err != nil {
		s.logger.Warn("ranked search failed, using substring match", "error", err)
	} else if len(books) > 0 {
		s.metrics.searchPath("ranked")
		return books, nil
	}

	books, err = s.store.SearchSubstring(ctx, query, limit)
	if err != nil {
		s.logger.Error("substring search failed", "error", err)
		return nil, apperr.Internal(err)
	}
	s.metrics.searchPath("substring")
	return books, nil
}

func (s *CatalogService) ListBooks(ctx context.Context, limit int) ([]storage.Book, error) {
	limit, err := normalizeLimit(limit, defaultListLimit, maxListLimit)
	if err != nil {
		return nil, err
	}
	books, err := s.store.ListBooks(ctx, limit)
	if err != nil {
		s.logger.Error("list books failed", "error", err)
		return nil, apperr.Internal(err)
	}
	return books, nil
}

func normalizeLimit(limit, def, maxLimit int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 1 || limit > maxLimit {
		return 0, apperr.InvalidInput(fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	return limit, nil
}

// Availability reports whether a copy can be lent now. When none is free
// the earliest-ending open lending tells when one comes back; a zero count
// without any open lending reports no date.
func (s *CatalogService) Availability(ctx context.Context, rawID string) (*Availability, error) {
	book, err := s.FindBook(ctx, rawID)
	if err != nil {
		return nil, err
	}
	out := &Availability{Book: book, IsAvailable: book.AvailableCopies > 0}
	if out.IsAvailable {
		return out, nil
	}

	earliest, err := s.store.EarliestOpenLending(ctx, book.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return out, nil
		}
		s.logger.Error("availability lookup failed", "book_id", book.ID, "error", err)
		return nil, apperr.Internal(err)
	}
	end := earliest.LendEndDate
	out.NextAvailableDate = &end
	out.CurrentLendingReturnDate = &end
	return out, nil
}

// AdjustAvailableCopies adds delta to the copy count in one statement.
// Callers pick a delta that keeps the count within range; one that does not
// is rejected by the store as Conflict.
func (s *CatalogService) AdjustAvailableCopies(ctx context.Context, id uuid.UUID, delta int) error {
	err := s.store.AddAvailableCopies(ctx, id, delta)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("Book not found")
	case errors.Is(err, storage.ErrConstraint):
		return apperr.Conflict("Available copies out of range")
	default:
		s.logger.Error("adjust available copies failed", "book_id", id, "delta", delta, "error", err)
		return apperr.Internal(err)
	}
}

// TakeCopy claims one copy if any is left.
func (s *CatalogService) TakeCopy(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.store.TakeCopy(ctx, id)
	if err != nil {
		s.logger.Error("take copy failed", "book_id", id, "error", err)
		return false, apperr.Internal(err)
	}
	return ok, nil
}
