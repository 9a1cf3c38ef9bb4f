package service

import (
	"context"
	"log/slog"
)

// Sweeper deletes expired refresh tokens and OTP codes. It is run on a
// ticker by the serve command and once by `auth sweep`.
type Sweeper struct {
	credentials  *CredentialService
	verification *VerificationService
	logger       *slog.Logger
}

type SweepResult struct {
	RefreshTokens int64
	OTPs          int64
}

func NewSweeper(credentials *CredentialService, verification *VerificationService, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{credentials: credentials, verification: verification, logger: logger}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	tokens, err := s.credentials.SweepExpired(ctx)
	if err != nil {
		return res, err
	}
	res.RefreshTokens = tokens

	otps, err := s.verification.SweepExpired(ctx)
	if err != nil {
		return res, err
	}
	res.OTPs = otps

	s.logger.Info("expired records swept", "refresh_tokens", res.RefreshTokens, "otps", res.OTPs)
	return res, nil
}

// Run adapts Sweep to worker.Job.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
