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
	"github.com/AfshinJalili/libris/services/notifier/internal/config"
	"github.com/AfshinJalili/libris/services/notifier/internal/consumer"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notifier stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metrics.NewRegistry()
	ready := health.NewManager(false)

	producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: cfg.App.ServiceName}, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return fmt.Errorf("kafka producer init: %w", err)
	}
	defer producer.Close()

	group, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		return fmt.Errorf("kafka consumer init: %w", err)
	}
	group.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter).WithRetries(cfg.Kafka.MaxAttempts, cfg.Kafka.MaxBackoff)
	defer group.Close()

	mailer := consumer.NewLogMailer(logger, cfg.Mail.RevealCodes)
	otpConsumer := consumer.NewOTPConsumer(mailer, cfg.Mail.From, logger, consumer.NewMetrics(registry))

	server := buildHTTPServer(cfg, ready, registry, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("notifier http starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	consumeCtx, cancelConsume := context.WithCancel(ctx)
	defer cancelConsume()
	go func() {
		logger.Info("notifier consumer starting", "topic", cfg.Kafka.Topics.OTPIssued, "group", cfg.Kafka.ConsumerGroup)
		if err := group.Consume(consumeCtx, []string{cfg.Kafka.Topics.OTPIssued}, otpConsumer); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	ready.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancelConsume()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.Use(metrics.HTTPMiddleware(registry))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}
