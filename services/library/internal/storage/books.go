package storage

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bookColumns = `id, title, author, genre, description, isbn, published_year, total_copies, available_copies, created_at`

const searchVector = `to_tsvector('simple', title || ' ' || author || ' ' || genre)`

func scanBook(row pgx.Row) (*Book, error) {
	var b Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.Description, &b.ISBN, &b.PublishedYear, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &b, nil
}

func collectBooks(rows pgx.Rows, err error) ([]Book, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

func (s *Store) FindBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return scanBook(s.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
}

// CreateBook inserts b. Used by the seed command and tests; catalog
// administration has no HTTP surface.
func (s *Store) CreateBook(ctx context.Context, b Book) (*Book, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return scanBook(s.pool.QueryRow(ctx, `
		INSERT INTO books (id, title, author, genre, description, isbn, published_year, total_copies, available_copies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+bookColumns,
		b.ID, b.Title, b.Author, b.Genre, b.Description, b.ISBN, b.PublishedYear, b.TotalCopies, b.AvailableCopies))
}

// SearchRanked orders full-text matches by ts_rank.
func (s *Store) SearchRanked(ctx context.Context, query string, limit int) ([]Book, error) {
	return collectBooks(s.pool.Query(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE `+searchVector+` @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(`+searchVector+`, plainto_tsquery('simple', $1)) DESC, created_at, id
		LIMIT $2
	`, query, limit))
}

// SearchSubstring matches query case-insensitively anywhere in title,
// author or genre, in insertion order.
func (s *Store) SearchSubstring(ctx context.Context, query string, limit int) ([]Book, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return collectBooks(s.pool.Query(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE title ILIKE $1 OR author ILIKE $1 OR genre ILIKE $1
		ORDER BY created_at, id
		LIMIT $2
	`, pattern, limit))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) ListBooks(ctx context.Context, limit int) ([]Book, error) {
	return collectBooks(s.pool.Query(ctx, `
		SELECT `+bookColumns+` FROM books ORDER BY title, id LIMIT $1
	`, limit))
}

// TakeCopy decrements available_copies only while it is positive. It is
// the only arbiter of the last-copy race: false means no copy was left (or
// the book is gone).
func (s *Store) TakeCopy(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE books SET available_copies = available_copies - 1
		WHERE id = $1 AND available_copies > 0
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AddAvailableCopies applies delta atomically. The range CHECK rejects a
// delta that would leave the count outside [0, total_copies].
func (s *Store) AddAvailableCopies(ctx context.Context, id uuid.UUID, delta int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE books SET available_copies = available_copies + $2
		WHERE id = $1
	`, id, delta)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
