package worker

import (
	"context"
	"log/slog"
	"time"
)

// Job is one pass of a periodic task.
type Job func(ctx context.Context) error

// Run calls job every interval until ctx is cancelled. When runImmediately
// is set the first pass starts before the first tick. A failing pass is
// logged and the loop carries on.
func Run(ctx context.Context, name string, interval time.Duration, runImmediately bool, job Job, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		logger.Warn("worker disabled, non-positive interval", "worker", name)
		return
	}

	logger.Info("worker started", "worker", name, "interval", interval)
	if runImmediately {
		runOnce(ctx, name, job, logger)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped", "worker", name)
			return
		case <-ticker.C:
			runOnce(ctx, name, job, logger)
		}
	}
}

func runOnce(ctx context.Context, name string, job Job, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		logger.Error("worker pass failed", "worker", name, "error", err, "duration", time.Since(start))
	}
}
