package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// advisoryLockKey serialises concurrent migrators started by several
// service replicas.
const advisoryLockKey = 7245133

type Migration struct {
	Version    int
	Name       string
	Statements []string
}

var Migrations = []Migration{
	{
		Version: 1,
		Name:    "users",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				bio TEXT,
				profile_picture TEXT,
				is_verified BOOLEAN NOT NULL DEFAULT FALSE,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email)`,
		},
	},
	{
		Version: 2,
		Name:    "books",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS books (
				id UUID PRIMARY KEY,
				title TEXT NOT NULL,
				author TEXT NOT NULL,
				genre TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				isbn TEXT,
				published_year INT,
				total_copies INT NOT NULL CHECK (total_copies >= 1),
				available_copies INT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CONSTRAINT books_available_copies_range CHECK (available_copies >= 0 AND available_copies <= total_copies)
			)`,
			`CREATE INDEX IF NOT EXISTS books_search_idx ON books
				USING GIN (to_tsvector('simple', title || ' ' || author || ' ' || genre))`,
			`CREATE INDEX IF NOT EXISTS books_title_idx ON books (title)`,
		},
	},
	{
		Version: 3,
		Name:    "lendings",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS lendings (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL,
				book_id UUID NOT NULL,
				book_title TEXT NOT NULL,
				lend_start_date DATE NOT NULL,
				lend_end_date DATE NOT NULL,
				actual_return_date DATE,
				status TEXT NOT NULL CHECK (status IN ('reserved', 'active', 'returned', 'cancelled')),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CHECK (lend_end_date > lend_start_date)
			)`,
			`CREATE INDEX IF NOT EXISTS lendings_user_status_idx ON lendings (user_id, status)`,
			`CREATE INDEX IF NOT EXISTS lendings_book_status_idx ON lendings (book_id, status, lend_end_date)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS lendings_one_reservation_per_book ON lendings (book_id) WHERE status = 'reserved'`,
			`CREATE INDEX IF NOT EXISTS lendings_due_reservations_idx ON lendings (lend_start_date) WHERE status = 'reserved'`,
		},
	},
	{
		Version: 4,
		Name:    "otps",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS otps (
				id UUID PRIMARY KEY,
				email TEXT NOT NULL,
				code TEXT NOT NULL,
				purpose TEXT NOT NULL CHECK (purpose IN ('email_verification', 'password_reset')),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				expires_at TIMESTAMPTZ NOT NULL,
				is_used BOOLEAN NOT NULL DEFAULT FALSE,
				attempts INT NOT NULL DEFAULT 0 CHECK (attempts >= 0)
			)`,
			`CREATE INDEX IF NOT EXISTS otps_email_purpose_used_idx ON otps (email, purpose, is_used, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS otps_expires_at_idx ON otps (expires_at)`,
		},
	},
	{
		Version: 5,
		Name:    "refresh_tokens",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS refresh_tokens (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL,
				token_hash TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				expires_at TIMESTAMPTZ NOT NULL,
				is_revoked BOOLEAN NOT NULL DEFAULT FALSE,
				revoked_at TIMESTAMPTZ,
				replaced_by UUID,
				device_info TEXT,
				last_used_at TIMESTAMPTZ
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS refresh_tokens_hash_key ON refresh_tokens (token_hash)`,
			`CREATE INDEX IF NOT EXISTS refresh_tokens_user_revoked_idx ON refresh_tokens (user_id, is_revoked)`,
			`CREATE INDEX IF NOT EXISTS refresh_tokens_expires_at_idx ON refresh_tokens (expires_at)`,
		},
	},
}

// Apply runs every migration newer than the recorded version, each in its
// own transaction. It is safe to call from several processes at once.
func Apply(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range Migrations {
		ok, err := applyOne(ctx, pool, m)
		if err != nil {
			return applied, fmt.Errorf("migration %d %s: %w", m.Version, m.Name, err)
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, m Migration) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return false, err
	}

	var existing int
	err = tx.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, m.Version).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return false, err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Current returns the highest applied migration version, or 0.
func Current(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var version int
	err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	return version, err
}
