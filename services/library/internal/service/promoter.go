package service

import (
	"context"
	"log/slog"
)

// Promoter adapts PromoteDueReservations to a worker.Job.
type Promoter struct {
	lending *LendingService
	batch   int
	logger  *slog.Logger
}

func NewPromoter(lending *LendingService, batch int, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{lending: lending, batch: batch, logger: logger}
}

func (p *Promoter) Run(ctx context.Context) error {
	n, err := p.lending.PromoteDueReservations(ctx, p.batch)
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info("promotion pass finished", "promoted", n)
	}
	return nil
}
