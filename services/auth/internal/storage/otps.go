package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReplaceOTP marks every unused code for (email, purpose) used and stores
// otp, holding a per-(email, purpose) advisory lock so concurrent requests
// cannot leave two live codes.
func (s *Store) ReplaceOTP(ctx context.Context, otp OTP) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, otp.Email+"|"+otp.Purpose); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE otps SET is_used = TRUE
		WHERE email = $1 AND purpose = $2 AND is_used = FALSE
	`, otp.Email, otp.Purpose); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO otps (id, email, code, purpose, created_at, expires_at, is_used, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, 0)
	`, otp.ID, otp.Email, otp.Code, otp.Purpose, otp.CreatedAt, otp.ExpiresAt); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetLatestUnusedOTP(ctx context.Context, email, purpose string) (*OTP, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, code, purpose, created_at, expires_at, is_used, attempts
		FROM otps
		WHERE email = $1 AND purpose = $2 AND is_used = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`, email, purpose)

	var o OTP
	if err := row.Scan(&o.ID, &o.Email, &o.Code, &o.Purpose, &o.CreatedAt, &o.ExpiresAt, &o.IsUsed, &o.Attempts); err != nil {
		return nil, mapError(err)
	}
	return &o, nil
}

// IncrementOTPAttempts bumps the attempt counter of an unused code and
// returns the new value.
func (s *Store) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE otps SET attempts = attempts + 1
		WHERE id = $1 AND is_used = FALSE
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		return 0, mapError(err)
	}
	return attempts, nil
}

// MarkOTPUsed consumes the code; false means it was already consumed.
func (s *Store) MarkOTPUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE otps SET is_used = TRUE WHERE id = $1 AND is_used = FALSE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM otps WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
