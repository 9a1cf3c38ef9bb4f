package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrConstraint reports a CHECK violation, e.g. a copy count pushed
	// outside [0, total_copies].
	ErrConstraint = errors.New("constraint violation")
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return ErrConflict
		case checkViolation:
			return ErrConstraint
		}
	}
	return err
}
