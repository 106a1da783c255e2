package worker

import (
	"context"
	"time"

	"auction-service/internal/service"
	"auction-service/internal/util"

	"go.uber.org/zap"
)

// SweepWorker periodically force-ends live auctions whose window has
// passed. It is the only actor that changes auction state without a
// caller request.
type SweepWorker struct {
	auctions *service.AuctionService
	interval time.Duration
	logger   *zap.Logger
}

// NewSweepWorker creates the expiry sweep
func NewSweepWorker(auctions *service.AuctionService, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SweepWorker{
		auctions: auctions,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs sweep passes until the context is cancelled
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry sweep", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expiry sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			ended, err := w.auctions.SweepExpired(ctx)
			if err != nil {
				w.logger.Error("Sweep pass failed", zap.Error(err))
				continue
			}
			if ended > 0 {
				w.logger.Info("Sweep ended expired auctions", zap.Int("count", ended))
			}
		}
	}
}
