package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, name, email, password_hash, bio, profile_picture, is_verified, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Bio, &u.ProfilePicture, &u.IsVerified, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// CreateUser inserts u and returns ErrConflict when the email is taken.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, bio, profile_picture, is_verified, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Bio, u.ProfilePicture, u.IsVerified, u.IsActive))
}

func (s *Store) MarkUserVerified(ctx context.Context, email string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_verified = TRUE, updated_at = now()
		WHERE email = $1
	`, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			bio = COALESCE($3, bio),
			profile_picture = COALESCE($4, profile_picture),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, update.Name, update.Bio, update.ProfilePicture))
}

func (s *Store) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, device_info)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.DeviceInfo)
	return mapError(err)
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, is_revoked, revoked_at, replaced_by, COALESCE(device_info, ''), last_used_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hash)

	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.IsRevoked, &t.RevokedAt, &t.ReplacedBy, &t.DeviceInfo, &t.LastUsedAt); err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// RotateToken revokes the live token with oldHash and stores next in one
// transaction. The conditional revoke decides concurrent rotations of the
// same token: the loser gets ErrNotFound and nothing is inserted.
func (s *Store) RotateToken(ctx context.Context, oldHash string, next RefreshToken, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = $3, last_used_at = $3, replaced_by = $4
		WHERE token_hash = $1 AND user_id = $2 AND is_revoked = FALSE AND expires_at > $3
	`, oldHash, next.UserID, now, next.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, device_info)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, next.ID, next.UserID, next.TokenHash, next.CreatedAt, next.ExpiresAt, next.DeviceInfo); err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

func (s *Store) RevokeTokenByHash(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = now()
		WHERE token_hash = $1 AND is_revoked = FALSE
	`, hash)
	return err
}

func (s *Store) RevokeAllTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND is_revoked = FALSE
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
