package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/libris/libs/health"
	"github.com/AfshinJalili/libris/libs/httpmiddleware"
	"github.com/AfshinJalili/libris/libs/kafka"
	"github.com/AfshinJalili/libris/libs/logging"
	"github.com/AfshinJalili/libris/libs/metrics"
	"github.com/AfshinJalili/libris/libs/trace"
	"github.com/AfshinJalili/libris/libs/worker"
	"github.com/AfshinJalili/libris/services/auth/internal/config"
	"github.com/AfshinJalili/libris/services/auth/internal/handlers"
	"github.com/AfshinJalili/libris/services/auth/internal/rate"
	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/service"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/AfshinJalili/libris/services/auth/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "auth",
		Short:        "Libris identity service: signup, OTP verification, login and token lifecycle",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the maintenance sweeper (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete expired refresh tokens and OTP codes once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSweep(cmd)
			},
		},
	)
	return root
}

// app holds everything both commands need.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	pool         *pgxpool.Pool
	registry     *prometheus.Registry
	publisher    kafka.Publisher
	credentials  *service.CredentialService
	verification *service.VerificationService
	accounts     *service.AccountService
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	pool, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connection: %w", err)
	}

	registry := metrics.NewRegistry()
	publisher, err := buildPublisher(cfg, logger, registry)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	hasher, err := security.NewPasswordHasher(security.Argon2Params(cfg.Argon2))
	if err != nil {
		pool.Close()
		return nil, err
	}

	var codes security.CodeGenerator = security.RandomCodeGenerator{}
	if cfg.OTP.StaticCode != "" {
		logger.Warn("static OTP code enabled", "env", cfg.App.Env)
		codes = security.StaticCodeGenerator{Code: cfg.OTP.StaticCode}
	}

	svcMetrics := service.NewMetrics(registry)
	store := storage.New(pool)
	issuer := security.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	credentials := service.NewCredentialService(store, issuer, service.SystemClock{}, logger, svcMetrics)
	verification := service.NewVerificationService(store, codes, publisher, service.VerificationConfig{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Topic:       cfg.Kafka.Topics.OTPIssued,
	}, service.SystemClock{}, logger, svcMetrics)
	accounts := service.NewAccountService(store, hasher, validation.Policy{AllowedDomains: cfg.AllowedEmailDomains},
		verification, credentials, logger, svcMetrics)

	return &app{
		cfg:          cfg,
		logger:       logger,
		pool:         pool,
		registry:     registry,
		publisher:    publisher,
		credentials:  credentials,
		verification: verification,
		accounts:     accounts,
	}, nil
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("kafka producer close failed", "error", err)
	}
	a.pool.Close()
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	shutdownTracer, err := trace.Setup(context.Background(), trace.OptionsFor(cfg.App))
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter, limiterClose, err := buildLimiter(cfg, logger)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		return err
	}
	defer func() {
		_ = limiterClose()
	}()

	ready := health.NewManager(true)
	ready.AddCheck("postgres", a.pool.Ping)

	authHandler := handlers.NewAuthHandler(a.accounts, a.credentials, logger, cfg.JWTSecret, cfg.AccessTokenTTL, limiter)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.Use(metrics.HTTPMiddleware(a.registry))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(a.registry)))

	authHandler.RegisterRoutes(router)

	sweeper := service.NewSweeper(a.credentials, a.verification, logger)
	go worker.Run(ctx, "auth-sweeper", cfg.SweepInterval, false, sweeper.Run, logger)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth service starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
		return err
	}

	ready.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func runSweep(cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := service.NewSweeper(a.credentials, a.verification, a.logger).Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d refresh tokens, %d otps\n", res.RefreshTokens, res.OTPs)
	return nil
}

func connectDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func buildPublisher(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (kafka.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("kafka brokers not configured, events will only be logged")
		return kafka.NewLogPublisher(logger), nil
	}
	producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: cfg.App.ServiceName}, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.Topics.DeadLetter == "" {
		return producer, nil
	}
	return kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger), nil
}

func buildLimiter(cfg *config.Config, logger *slog.Logger) (rate.Limiter, func() error, error) {
	policies := limiterPolicies(cfg)
	if cfg.RateLimit.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.IsDev() {
				logger.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
				return rate.NewMemory(policies), func() error { return nil }, nil
			}
			return nil, nil, err
		}

		return rate.NewRedisLimiter(client, policies, cfg.RateLimit.Redis.Prefix), client.Close, nil
	}

	if cfg.App.IsDev() {
		return rate.NewMemory(policies), func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("rate limiter redis not configured")
}

func limiterPolicies(cfg *config.Config) rate.Policies {
	otp := rate.Policy{Limit: cfg.RateLimit.OTPLimit, Window: cfg.RateLimit.OTPWindow}
	return rate.Policies{
		Default: rate.Policy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window},
		Scopes: map[string]rate.Policy{
			"verify-otp":      otp,
			"resend-otp":      otp,
			"forgot-password": otp,
			"reset-password":  otp,
		},
	}
}
