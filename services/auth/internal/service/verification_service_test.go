package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
)

func TestVerifyLockoutAfterThreeWrongGuesses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	email := "ann@gmail.com"

	if _, err := f.verification.Generate(ctx, email, storage.PurposeEmailVerification); err != nil {
		t.Fatalf("generate: %v", err)
	}

	wantRemaining := []string{"2 attempts remaining", "1 attempts remaining", "0 attempts remaining"}
	for i, want := range wantRemaining {
		err := f.verification.Verify(ctx, email, "000000", storage.PurposeEmailVerification)
		if !apperr.Is(err, apperr.KindInvalidInput) || !strings.Contains(err.Error(), want) {
			t.Fatalf("guess %d: expected %q, got %v", i+1, want, err)
		}
	}

	err := f.verification.Verify(ctx, email, "123456", storage.PurposeEmailVerification)
	if err == nil || !strings.Contains(err.Error(), "Too many failed attempts") {
		t.Fatalf("expected lockout on 4th call, got %v", err)
	}

	err = f.verification.Verify(ctx, email, "123456", storage.PurposeEmailVerification)
	if err == nil || !strings.Contains(err.Error(), "No valid OTP found") {
		t.Fatalf("locked code must be consumed, got %v", err)
	}
}

func TestVerifySucceedsOnceThenConsumed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.verification.Generate(ctx, "ann@gmail.com", storage.PurposePasswordReset); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := f.verification.Verify(ctx, "ann@gmail.com", "000000", storage.PurposePasswordReset); err == nil {
		t.Fatalf("expected mismatch")
	}
	if err := f.verification.Verify(ctx, "ann@gmail.com", "123456", storage.PurposePasswordReset); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.verification.Verify(ctx, "ann@gmail.com", "123456", storage.PurposePasswordReset); err == nil {
		t.Fatalf("code must be single use")
	}
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.verification.Generate(ctx, "ann@gmail.com", storage.PurposeEmailVerification); err != nil {
		t.Fatalf("generate: %v", err)
	}
	f.clock.Advance(11 * time.Minute)

	err := f.verification.Verify(ctx, "ann@gmail.com", "123456", storage.PurposeEmailVerification)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestGenerateInvalidatesPriorCodes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.verification.Generate(ctx, "ann@gmail.com", storage.PurposeEmailVerification); err != nil {
			t.Fatalf("generate: %v", err)
		}
		f.clock.Advance(time.Second)
	}
	if n := f.store.unusedOTPs("ann@gmail.com", storage.PurposeEmailVerification); n != 1 {
		t.Fatalf("expected one live code, got %d", n)
	}
	if _, err := f.verification.Generate(ctx, "ann@gmail.com", "bogus"); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected invalid purpose, got %v", err)
	}
}

func TestGenerateSurvivesPublishFailure(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("broker down")

	code, err := f.verification.Generate(context.Background(), "ann@gmail.com", storage.PurposeEmailVerification)
	if err != nil || code != "123456" {
		t.Fatalf("expected code despite publish failure, got %q %v", code, err)
	}
}

func TestSweepExpiredOTPs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.verification.Generate(ctx, "ann@gmail.com", storage.PurposeEmailVerification); err != nil {
		t.Fatalf("generate: %v", err)
	}
	f.clock.Advance(time.Hour)
	n, err := f.verification.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one swept, got %d %v", n, err)
	}
}
