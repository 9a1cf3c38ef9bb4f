package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/google/uuid"
)

type TokenStore interface {
	CreateRefreshToken(ctx context.Context, token storage.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*storage.RefreshToken, error)
	RotateToken(ctx context.Context, oldHash string, next storage.RefreshToken, now time.Time) error
	RevokeTokenByHash(ctx context.Context, hash string) error
	RevokeAllTokens(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// CredentialService owns the refresh-token chain. Only digests reach the
// store; a rotated token is dead and presenting it again revokes the
// whole chain for that user.
type CredentialService struct {
	store   TokenStore
	tokens  *security.TokenIssuer
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
}

func NewCredentialService(store TokenStore, tokens *security.TokenIssuer, clock Clock, logger *slog.Logger, metrics *Metrics) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &CredentialService{store: store, tokens: tokens, clock: clock, logger: logger, metrics: metrics}
}

func (s *CredentialService) Issue(ctx context.Context, userID uuid.UUID, email, deviceInfo string) (security.TokenPair, error) {
	now := s.clock.Now()
	pair, err := s.tokens.Mint(userID, email, now)
	if err != nil {
		s.logger.Error("mint tokens failed", "error", err)
		return security.TokenPair{}, apperr.Internal(err)
	}

	err = s.store.CreateRefreshToken(ctx, storage.RefreshToken{
		ID:         pair.RefreshID,
		UserID:     userID,
		TokenHash:  pair.RefreshHash,
		CreatedAt:  now,
		ExpiresAt:  pair.RefreshExpiresAt,
		DeviceInfo: deviceInfo,
	})
	if err != nil {
		s.logger.Error("store refresh token failed", "error", err)
		return security.TokenPair{}, apperr.Internal(err)
	}

	s.metrics.tokenOp("issue", "ok")
	return pair, nil
}

func (s *CredentialService) Rotate(ctx context.Context, refreshToken string) (security.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		s.metrics.tokenOp("rotate", "invalid")
		return security.TokenPair{}, apperr.Unauthorized("Invalid refresh token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		s.metrics.tokenOp("rotate", "invalid")
		return security.TokenPair{}, apperr.Unauthorized("Invalid refresh token")
	}

	hash := security.Digest(refreshToken)
	stored, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.tokenOp("rotate", "unknown")
			return security.TokenPair{}, apperr.Unauthorized("Refresh token not found or revoked")
		}
		s.logger.Error("refresh token lookup failed", "error", err)
		return security.TokenPair{}, apperr.Internal(err)
	}
	if stored.UserID != userID {
		s.metrics.tokenOp("rotate", "invalid")
		return security.TokenPair{}, apperr.Unauthorized("Invalid refresh token")
	}

	now := s.clock.Now()
	if stored.IsRevoked && stored.ReplacedBy == nil {
		s.metrics.tokenOp("rotate", "revoked")
		return security.TokenPair{}, apperr.Unauthorized("Refresh token has been revoked")
	}
	// A rotated token coming back means it was copied: end every session.
	if stored.IsRevoked {
		revoked, err := s.store.RevokeAllTokens(ctx, userID)
		if err != nil {
			s.logger.Error("revoke chain after reuse failed", "user_id", userID, "error", err)
		}
		s.logger.Warn("rotated refresh token reused", "user_id", userID, "revoked_sessions", revoked)
		s.metrics.tokenOp("rotate", "reuse")
		return security.TokenPair{}, apperr.Unauthorized("Refresh token has been revoked")
	}
	if !now.Before(stored.ExpiresAt) {
		if err := s.store.RevokeTokenByHash(ctx, hash); err != nil {
			s.logger.Error("revoke expired token failed", "error", err)
		}
		s.metrics.tokenOp("rotate", "expired")
		return security.TokenPair{}, apperr.Unauthorized("Refresh token expired")
	}

	pair, err := s.tokens.Mint(userID, claims.Email, now)
	if err != nil {
		s.logger.Error("mint tokens failed", "error", err)
		return security.TokenPair{}, apperr.Internal(err)
	}
	next := storage.RefreshToken{
		ID:         pair.RefreshID,
		UserID:     userID,
		TokenHash:  pair.RefreshHash,
		CreatedAt:  now,
		ExpiresAt:  pair.RefreshExpiresAt,
		DeviceInfo: stored.DeviceInfo,
	}
	if err := s.store.RotateToken(ctx, hash, next, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.tokenOp("rotate", "lost_race")
			return security.TokenPair{}, apperr.Unauthorized("Refresh token not found or revoked")
		}
		s.logger.Error("rotate refresh token failed", "error", err)
		return security.TokenPair{}, apperr.Internal(err)
	}

	s.metrics.tokenOp("rotate", "ok")
	return pair, nil
}

// Revoke is idempotent: unknown and already revoked tokens are a no-op.
func (s *CredentialService) Revoke(ctx context.Context, refreshToken string) error {
	if err := s.store.RevokeTokenByHash(ctx, security.Digest(refreshToken)); err != nil {
		s.logger.Error("revoke refresh token failed", "error", err)
		return apperr.Internal(err)
	}
	s.metrics.tokenOp("revoke", "ok")
	return nil
}

func (s *CredentialService) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.RevokeAllTokens(ctx, userID)
	if err != nil {
		s.logger.Error("revoke all tokens failed", "user_id", userID, "error", err)
		return 0, apperr.Internal(err)
	}
	s.metrics.tokenOp("revoke_all", "ok")
	return n, nil
}

func (s *CredentialService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.metrics.swept("refresh_token", n)
	return n, nil
}
