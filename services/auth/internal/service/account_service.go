package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/AfshinJalili/libris/services/auth/internal/validation"
	"github.com/google/uuid"
)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	CreateUser(ctx context.Context, u storage.User) (*storage.User, error)
	MarkUserVerified(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, update storage.ProfileUpdate) (*storage.User, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	VerifyDummy(password string)
}

type LoginResult struct {
	User   *storage.User
	Tokens security.TokenPair
}

// AccountService composes the user store with the verification and
// credential services into the signup, login and recovery flows.
type AccountService struct {
	users        UserStore
	hasher       PasswordHasher
	policy       validation.Policy
	verification *VerificationService
	credentials  *CredentialService
	logger       *slog.Logger
	metrics      *Metrics
}

func NewAccountService(users UserStore, hasher PasswordHasher, policy validation.Policy, verification *VerificationService, credentials *CredentialService, logger *slog.Logger, metrics *Metrics) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		users:        users,
		hasher:       hasher,
		policy:       policy,
		verification: verification,
		credentials:  credentials,
		logger:       logger,
		metrics:      metrics,
	}
}

func (s *AccountService) Signup(ctx context.Context, name, email, password string) (*storage.User, error) {
	if fields := s.policy.ValidateSignup(name, email, password); len(fields) > 0 {
		return nil, apperr.Invalid("Validation failed", fields)
	}
	email = validation.NormalizeEmail(email)

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		return nil, apperr.Internal(err)
	}

	user, err := s.users.CreateUser(ctx, storage.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.Conflict("Email already registered.")
		}
		s.logger.Error("create user failed", "error", err)
		return nil, apperr.Internal(err)
	}

	if _, err := s.verification.Generate(ctx, email, storage.PurposeEmailVerification); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) error {
	email = validation.NormalizeEmail(email)
	if err := s.verification.Verify(ctx, email, code, storage.PurposeEmailVerification); err != nil {
		return err
	}
	if err := s.users.MarkUserVerified(ctx, email); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("User not found.")
		}
		s.logger.Error("mark verified failed", "error", err)
		return apperr.Internal(err)
	}
	return nil
}

// ResendOTP reports success for every address; a code is only issued for
// an existing account that still needs verification.
func (s *AccountService) ResendOTP(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		s.logger.Error("resend lookup failed", "error", err)
		return apperr.Internal(err)
	}
	if user.IsVerified {
		return nil
	}
	_, err = s.verification.Generate(ctx, email, storage.PurposeEmailVerification)
	return err
}

func (s *AccountService) Login(ctx context.Context, email, password, deviceInfo string) (*LoginResult, error) {
	email = validation.NormalizeEmail(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			s.metrics.login("bad_credentials")
			return nil, apperr.Unauthorized("Invalid email or password.")
		}
		s.logger.Error("login lookup failed", "error", err)
		return nil, apperr.Internal(err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.metrics.login("bad_credentials")
		return nil, apperr.Unauthorized("Invalid email or password.")
	}
	if !user.IsVerified {
		s.metrics.login("unverified")
		return nil, apperr.Forbidden("Email not verified. Please verify your email first.")
	}
	if !user.IsActive {
		s.metrics.login("inactive")
		return nil, apperr.Forbidden("Account is inactive.")
	}

	pair, err := s.credentials.Issue(ctx, user.ID, user.Email, deviceInfo)
	if err != nil {
		return nil, err
	}
	s.metrics.login("ok")
	return &LoginResult{User: user, Tokens: pair}, nil
}

func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if _, err := s.users.GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		s.logger.Error("forgot password lookup failed", "error", err)
		return apperr.Internal(err)
	}
	_, err := s.verification.Generate(ctx, email, storage.PurposePasswordReset)
	return err
}

func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if msg := validation.PasswordProblem(newPassword); msg != "" {
		return apperr.Invalid("Validation failed", []apperr.FieldError{{Field: "new_password", Message: msg}})
	}
	email = validation.NormalizeEmail(email)

	if err := s.verification.Verify(ctx, email, code, storage.PurposePasswordReset); err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("User not found.")
		}
		s.logger.Error("reset lookup failed", "error", err)
		return apperr.Internal(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		return apperr.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Error("update password failed", "error", err)
		return apperr.Internal(err)
	}

	revoked, err := s.credentials.RevokeAll(ctx, user.ID)
	if err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", user.ID, "revoked_sessions", revoked)
	return nil
}

func (s *AccountService) GetProfile(ctx context.Context, userID uuid.UUID) (*storage.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("User not found.")
		}
		s.logger.Error("profile lookup failed", "error", err)
		return nil, apperr.Internal(err)
	}
	return user, nil
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID uuid.UUID, update storage.ProfileUpdate) (*storage.User, error) {
	if fields := validation.ValidateProfile(update.Name, update.Bio); len(fields) > 0 {
		return nil, apperr.Invalid("Validation failed", fields)
	}
	update.Name = trimmed(update.Name)
	update.Bio = trimmed(update.Bio)

	user, err := s.users.UpdateProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("User not found.")
		}
		s.logger.Error("profile update failed", "error", err)
		return nil, apperr.Internal(err)
	}
	return user, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
