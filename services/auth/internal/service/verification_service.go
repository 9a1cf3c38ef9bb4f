package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/libs/httpmiddleware"
	"github.com/AfshinJalili/libris/libs/kafka"
	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/google/uuid"
)

const otpIssuedEventType = "otp.issued"

type OTPStore interface {
	ReplaceOTP(ctx context.Context, otp storage.OTP) error
	GetLatestUnusedOTP(ctx context.Context, email, purpose string) (*storage.OTP, error)
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkOTPUsed(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

type VerificationConfig struct {
	TTL         time.Duration
	MaxAttempts int
	Topic       string
}

type OTPIssuedEvent struct {
	kafka.Envelope
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

type VerificationService struct {
	store     OTPStore
	codes     security.CodeGenerator
	publisher kafka.Publisher
	cfg       VerificationConfig
	clock     Clock
	logger    *slog.Logger
	metrics   *Metrics
}

func NewVerificationService(store OTPStore, codes security.CodeGenerator, publisher kafka.Publisher, cfg VerificationConfig, clock Clock, logger *slog.Logger, metrics *Metrics) *VerificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if codes == nil {
		codes = security.RandomCodeGenerator{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Topic == "" {
		cfg.Topic = otpIssuedEventType
	}
	return &VerificationService{
		store:     store,
		codes:     codes,
		publisher: publisher,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

func validPurpose(purpose string) bool {
	return purpose == storage.PurposeEmailVerification || purpose == storage.PurposePasswordReset
}

// Generate replaces any live code for (email, purpose) with a fresh one and
// hands it to the notifier.
func (s *VerificationService) Generate(ctx context.Context, email, purpose string) (string, error) {
	if !validPurpose(purpose) {
		return "", apperr.InvalidInput("Invalid OTP purpose")
	}
	code, err := s.codes.Generate()
	if err != nil {
		s.logger.Error("generate otp failed", "error", err)
		return "", apperr.Internal(err)
	}

	now := s.clock.Now()
	otp := storage.OTP{
		ID:        uuid.New(),
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.ReplaceOTP(ctx, otp); err != nil {
		s.logger.Error("store otp failed", "purpose", purpose, "error", err)
		return "", apperr.Internal(err)
	}

	s.publishIssued(ctx, otp)
	return code, nil
}

func (s *VerificationService) publishIssued(ctx context.Context, otp storage.OTP) {
	if s.publisher == nil {
		return
	}
	eventID := kafka.DeterministicEventID(otpIssuedEventType, otp.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, otpIssuedEventType, 1, httpmiddleware.RequestIDFromContext(ctx))
	if err != nil {
		s.logger.Error("build otp envelope failed", "error", err)
		return
	}
	payload := OTPIssuedEvent{
		Envelope:  env,
		Email:     otp.Email,
		Purpose:   otp.Purpose,
		Code:      otp.Code,
		ExpiresAt: otp.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.cfg.Topic, otp.Email, payload); err != nil {
		s.logger.Error("publish otp issued failed", "purpose", otp.Purpose, "error", err)
	}
}

// Verify consumes one guess. The attempt is counted before the comparison,
// so MaxAttempts wrong guesses leave the code locked for the next call.
func (s *VerificationService) Verify(ctx context.Context, email, code, purpose string) error {
	if !validPurpose(purpose) {
		return apperr.InvalidInput("Invalid OTP purpose")
	}

	otp, err := s.store.GetLatestUnusedOTP(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.otpResult(purpose, "missing")
			return apperr.InvalidInput("No valid OTP found. Please request a new OTP.")
		}
		s.logger.Error("otp lookup failed", "error", err)
		return apperr.Internal(err)
	}

	if !s.clock.Now().Before(otp.ExpiresAt) {
		s.metrics.otpResult(purpose, "expired")
		return apperr.InvalidInput("OTP has expired. Please request a new OTP.")
	}

	if otp.Attempts >= s.cfg.MaxAttempts {
		if _, err := s.store.MarkOTPUsed(ctx, otp.ID); err != nil {
			s.logger.Error("lock otp failed", "error", err)
		}
		s.metrics.otpResult(purpose, "locked")
		return apperr.InvalidInput("Too many failed attempts. Please request a new OTP.")
	}

	attempts, err := s.store.IncrementOTPAttempts(ctx, otp.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.otpResult(purpose, "missing")
			return apperr.InvalidInput("No valid OTP found. Please request a new OTP.")
		}
		s.logger.Error("increment otp attempts failed", "error", err)
		return apperr.Internal(err)
	}
	// Concurrent guesses may push the counter past the limit between the
	// check above and the increment.
	if attempts > s.cfg.MaxAttempts {
		s.metrics.otpResult(purpose, "locked")
		return apperr.InvalidInput("Too many failed attempts. Please request a new OTP.")
	}

	if subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
		s.metrics.otpResult(purpose, "mismatch")
		return apperr.InvalidInput(fmt.Sprintf("Invalid OTP. %d attempts remaining.", s.cfg.MaxAttempts-attempts))
	}

	consumed, err := s.store.MarkOTPUsed(ctx, otp.ID)
	if err != nil {
		s.logger.Error("mark otp used failed", "error", err)
		return apperr.Internal(err)
	}
	if !consumed {
		s.metrics.otpResult(purpose, "missing")
		return apperr.InvalidInput("No valid OTP found. Please request a new OTP.")
	}

	s.metrics.otpResult(purpose, "ok")
	return nil
}

func (s *VerificationService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredOTPs(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.metrics.swept("otp", n)
	return n, nil
}
