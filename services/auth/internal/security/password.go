package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidHash = errors.New("invalid hash format")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func HashPassword(password string, params Argon2Params) (string, error) {
	if params.SaltLength == 0 || params.KeyLength == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return "", fmt.Errorf("invalid argon2 params")
	}
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// PasswordHasher binds argon2 parameters so callers do not pass them around.
// It also spends one verification on a dummy hash when the account does not
// exist, keeping login latency independent of whether the email is known.
type PasswordHasher struct {
	params Argon2Params
	dummy  string
}

func NewPasswordHasher(params Argon2Params) (*PasswordHasher, error) {
	dummy, err := HashPassword("dummy-password-for-timing", params)
	if err != nil {
		return nil, err
	}
	return &PasswordHasher{params: params, dummy: dummy}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	return HashPassword(password, h.params)
}

func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	return VerifyPassword(password, encoded)
}

func (h *PasswordHasher) VerifyDummy(password string) {
	_, _ = VerifyPassword(password, h.dummy)
}
