package storage

import (
	"time"

	"github.com/google/uuid"
)

const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
)

type User struct {
	ID             uuid.UUID
	Name           string
	Email          string
	PasswordHash   string
	Bio            *string
	ProfilePicture *string
	IsVerified     bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProfileUpdate carries the optional fields of a profile edit; nil means
// unchanged.
type ProfileUpdate struct {
	Name           *string
	Bio            *string
	ProfilePicture *string
}

type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IsRevoked  bool
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
	DeviceInfo string
	LastUsedAt *time.Time
}

type OTP struct {
	ID        uuid.UUID
	Email     string
	Code      string
	Purpose   string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
	Attempts  int
}
