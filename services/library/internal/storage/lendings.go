package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const lendingColumns = `id, user_id, book_id, book_title, lend_start_date, lend_end_date, actual_return_date, status, created_at, updated_at`

func scanLending(row pgx.Row) (*Lending, error) {
	var l Lending
	if err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.BookTitle, &l.LendStartDate, &l.LendEndDate, &l.ActualReturnDate, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &l, nil
}

// CreateLending inserts l. A second reservation for the same book loses on
// lendings_one_reservation_per_book and returns ErrConflict.
func (s *Store) CreateLending(ctx context.Context, l Lending) (*Lending, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return scanLending(s.pool.QueryRow(ctx, `
		INSERT INTO lendings (id, user_id, book_id, book_title, lend_start_date, lend_end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+lendingColumns,
		l.ID, l.UserID, l.BookID, l.BookTitle, l.LendStartDate, l.LendEndDate, l.Status))
}

func (s *Store) GetLending(ctx context.Context, id uuid.UUID) (*Lending, error) {
	return scanLending(s.pool.QueryRow(ctx, `SELECT `+lendingColumns+` FROM lendings WHERE id = $1`, id))
}

// EarliestActiveLending returns the active lending of bookID that ends
// first.
func (s *Store) EarliestActiveLending(ctx context.Context, bookID uuid.UUID) (*Lending, error) {
	return scanLending(s.pool.QueryRow(ctx, `
		SELECT `+lendingColumns+`
		FROM lendings
		WHERE book_id = $1 AND status = 'active'
		ORDER BY lend_end_date, created_at
		LIMIT 1
	`, bookID))
}

// EarliestOpenLending is EarliestActiveLending widened to reservations.
func (s *Store) EarliestOpenLending(ctx context.Context, bookID uuid.UUID) (*Lending, error) {
	return scanLending(s.pool.QueryRow(ctx, `
		SELECT `+lendingColumns+`
		FROM lendings
		WHERE book_id = $1 AND status IN ('active', 'reserved')
		ORDER BY lend_end_date, created_at
		LIMIT 1
	`, bookID))
}

func (s *Store) ReservationForBook(ctx context.Context, bookID uuid.UUID) (*Lending, error) {
	return scanLending(s.pool.QueryRow(ctx, `
		SELECT `+lendingColumns+` FROM lendings WHERE book_id = $1 AND status = 'reserved'
	`, bookID))
}

// ListUserLendings returns every lending of userID, newest first, joined
// with its book when the book still exists.
func (s *Store) ListUserLendings(ctx context.Context, userID uuid.UUID) ([]LendingWithBook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.user_id, l.book_id, l.book_title, l.lend_start_date, l.lend_end_date,
		       l.actual_return_date, l.status, l.created_at, l.updated_at,
		       b.id, b.title, b.author, b.genre, b.total_copies, b.available_copies
		FROM lendings l
		LEFT JOIN books b ON b.id = l.book_id
		WHERE l.user_id = $1
		ORDER BY l.created_at DESC, l.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LendingWithBook{}
	for rows.Next() {
		var (
			item                   LendingWithBook
			bookID                 *uuid.UUID
			title, author, genre   *string
			totalCopies, available *int
		)
		l := &item.Lending
		if err := rows.Scan(&l.ID, &l.UserID, &l.BookID, &l.BookTitle, &l.LendStartDate, &l.LendEndDate,
			&l.ActualReturnDate, &l.Status, &l.CreatedAt, &l.UpdatedAt,
			&bookID, &title, &author, &genre, &totalCopies, &available); err != nil {
			return nil, err
		}
		if bookID != nil {
			item.Book = &Book{
				ID:              *bookID,
				Title:           *title,
				Author:          *author,
				Genre:           *genre,
				TotalCopies:     *totalCopies,
				AvailableCopies: *available,
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// TransitionLending moves a lending from one status to another only if it
// is still in from. ErrNotFound means the row is missing or has already
// moved on. returnDate is stored as actual_return_date when non-nil.
func (s *Store) TransitionLending(ctx context.Context, id uuid.UUID, from, to string, returnDate *time.Time) (*Lending, error) {
	return scanLending(s.pool.QueryRow(ctx, `
		UPDATE lendings
		SET status = $3, actual_return_date = COALESCE($4::date, actual_return_date), updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+lendingColumns,
		id, from, to, returnDate))
}

// ListDueReservations returns reservations starting on or before today in
// start order.
func (s *Store) ListDueReservations(ctx context.Context, today time.Time, limit int) ([]Lending, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lendingColumns+`
		FROM lendings
		WHERE status = 'reserved' AND lend_start_date <= $1::date
		ORDER BY lend_start_date, created_at
		LIMIT $2
	`, today, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Lending{}
	for rows.Next() {
		l, err := scanLending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
