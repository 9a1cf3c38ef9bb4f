package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/AfshinJalili/libris/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPair is a freshly minted access/refresh pair. RefreshHash is the
// only form of the refresh token that is ever persisted.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshHash      string
	RefreshID        uuid.UUID
	RefreshExpiresAt time.Time
}

type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

func (i *TokenIssuer) Mint(userID uuid.UUID, email string, now time.Time) (TokenPair, error) {
	access, err := i.sign(auth.TokenTypeAccess, uuid.New(), userID, email, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshID := uuid.New()
	refresh, err := i.sign(auth.TokenTypeRefresh, refreshID, userID, email, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(i.accessTTL),
		RefreshToken:     refresh,
		RefreshHash:      Digest(refresh),
		RefreshID:        refreshID,
		RefreshExpiresAt: now.Add(i.refreshTTL),
	}, nil
}

// ParseRefresh validates signature, expiry and the refresh type tag.
func (i *TokenIssuer) ParseRefresh(token string) (*auth.Claims, error) {
	return auth.ParseTyped(token, i.secret, auth.TokenTypeRefresh)
}

func (i *TokenIssuer) sign(typ string, id, userID uuid.UUID, email string, now time.Time, ttl time.Duration) (string, error) {
	claims := auth.Claims{
		Type:  typ,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Issuer:    i.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Digest is the one-way form under which refresh tokens are stored.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
