package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/AfshinJalili/libris/libs/kafka"
	"github.com/AfshinJalili/libris/libs/logging"
	"github.com/AfshinJalili/libris/services/auth/internal/rate"
	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/service"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/AfshinJalili/libris/services/auth/internal/validation"
	"github.com/AfshinJalili/libris/services/testutil"
	"github.com/gin-gonic/gin"
)

func TestAuthFlowIntegration(t *testing.T) {
	pool := testutil.OpenDB(t)

	logger := logging.Discard()
	store := storage.New(pool)
	hasher, err := security.NewPasswordHasher(security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	issuer := security.NewTokenIssuer([]byte(testSecret), "libris-auth", 15*time.Minute, 7*24*time.Hour)
	creds := service.NewCredentialService(store, issuer, nil, logger, nil)
	verify := service.NewVerificationService(store, security.StaticCodeGenerator{Code: "123456"}, kafka.NewLogPublisher(logger),
		service.VerificationConfig{TTL: 10 * time.Minute, MaxAttempts: 3}, nil, logger, nil)
	accounts := service.NewAccountService(store, hasher, validation.Policy{AllowedDomains: []string{"gmail.com"}}, verify, creds, logger, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewAuthHandler(accounts, creds, logger, testSecret, 15*time.Minute, rate.NewMemory(rate.Uniform(100, time.Minute))).RegisterRoutes(router)

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/signup", signupRequest{Name: "Ann", Email: "ann@gmail.com", Password: "Passw0rd!"})
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)

	resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/signup", signupRequest{Name: "Ann", Email: "ann@gmail.com", Password: "Passw0rd!"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeConflict)

	resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/verify-otp", verifyOTPRequest{Email: "ann@gmail.com", OTPCode: "123456"})
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "ann@gmail.com", Password: "Passw0rd!"})
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var login loginResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if login.Tokens.AccessToken == "" || login.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens, got %s", resp.Body.String())
	}

	resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: login.Tokens.RefreshToken})
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var rotated tokenResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}

	t.Run("reuse of rotated token fails", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: login.Tokens.RefreshToken})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
	})

	t.Run("reuse revoked the successor", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: rotated.RefreshToken})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
	})

	t.Run("profile with access token", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(router, http.MethodGet, "/users/me", nil, rotated.AccessToken)
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	})
}

func TestConcurrentRotationIntegration(t *testing.T) {
	pool := testutil.OpenDB(t)
	ctx := context.Background()

	store := storage.New(pool)
	issuer := security.NewTokenIssuer([]byte(testSecret), "libris-auth", 15*time.Minute, 7*24*time.Hour)
	creds := service.NewCredentialService(store, issuer, nil, logging.Discard(), nil)

	pair, err := creds.Issue(ctx, testutil.DemoUserID, testutil.DemoEmail, "it")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const n = 10
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := creds.Rotate(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wins := 0
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one rotation to win, got %d", wins)
	}
}
