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
	"github.com/AfshinJalili/libris/services/library/internal/config"
	"github.com/AfshinJalili/libris/services/library/internal/handlers"
	"github.com/AfshinJalili/libris/services/library/internal/service"
	"github.com/AfshinJalili/libris/services/library/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "library",
		Short:        "Libris catalog and lending service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	var limit int
	promote := &cobra.Command{
		Use:   "promote",
		Short: "Activate due reservations once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPromote(cmd, limit)
		},
	}
	promote.Flags().IntVar(&limit, "limit", 0, "max reservations to handle (default LIBRIS_PROMOTION_BATCH)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the reservation promoter (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		promote,
	)
	return root
}

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	pool      *pgxpool.Pool
	registry  *prometheus.Registry
	publisher kafka.Publisher
	catalog   *service.CatalogService
	lending   *service.LendingService
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

	svcMetrics := service.NewMetrics(registry)
	store := storage.New(pool)
	catalog := service.NewCatalogService(store, logger, svcMetrics)
	lending := service.NewLendingService(catalog, store, publisher, service.LendingConfig{
		Durations:      cfg.Lending.Durations,
		MaxAdvanceDays: cfg.Lending.MaxAdvanceDays,
		Location:       cfg.Lending.Location,
		Topic:          cfg.Kafka.Topics.LendingEvents,
	}, service.SystemClock{}, logger, svcMetrics)

	return &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		registry:  registry,
		publisher: publisher,
		catalog:   catalog,
		lending:   lending,
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

	ready := health.NewManager(true)
	ready.AddCheck("postgres", a.pool.Ping)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.Use(metrics.HTTPMiddleware(a.registry))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(a.registry)))

	handlers.NewLibraryHandler(a.catalog, a.lending, logger, cfg.JWTSecret).RegisterRoutes(router)

	promoter := service.NewPromoter(a.lending, cfg.Promotion.Batch, logger)
	go worker.Run(ctx, "reservation-promoter", cfg.Promotion.Interval, true, promoter.Run, logger)

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
		logger.Info("library service starting", "addr", addr)
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

func runPromote(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if limit <= 0 {
		limit = a.cfg.Promotion.Batch
	}
	n, err := a.lending.PromoteDueReservations(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "promoted %d reservations\n", n)
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
