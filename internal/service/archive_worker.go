package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const archiveLockKey = "archive:sweep"

// MarketLister lists every market in the ledger.
type MarketLister interface {
	Markets() []domain.Market
}

// ArchiveWorker periodically exports trade events of every market to object
// storage, plus the final snapshot of resolved markets.
type ArchiveWorker struct {
	markets  MarketLister
	archiver domain.Archiver
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

// NewArchiveWorker creates an ArchiveWorker. locks may be nil.
func NewArchiveWorker(
	markets MarketLister,
	archiver domain.Archiver,
	locks domain.LockManager,
	interval time.Duration,
	logger *slog.Logger,
) *ArchiveWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveWorker{
		markets:  markets,
		archiver: archiver,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "archive_worker")),
	}
}

// Run archives on every tick until ctx is cancelled. Call in a goroutine.
func (w *ArchiveWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce archives every market once and returns the number of trade events
// exported. Failures on one market do not stop the others.
func (w *ArchiveWorker) RunOnce(ctx context.Context) int64 {
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, archiveLockKey, w.interval)
		if errors.Is(err, domain.ErrLockHeld) {
			w.logger.DebugContext(ctx, "archive_worker: another instance holds the lock")
			return 0
		}
		if err != nil {
			w.logger.ErrorContext(ctx, "archive_worker: acquire lock failed", slog.String("error", err.Error()))
			return 0
		}
		defer unlock()
	}

	var total int64
	for _, m := range w.markets.Markets() {
		if ctx.Err() != nil {
			break
		}
		n, err := w.archiver.ArchiveTrades(ctx, m.ID)
		if err != nil {
			w.logger.ErrorContext(ctx, "archive_worker: archive trades failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += n
		if m.Status == domain.MarketStatusResolved {
			if err := w.archiver.ArchiveMarket(ctx, m); err != nil {
				w.logger.ErrorContext(ctx, "archive_worker: archive market failed",
					slog.Uint64("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	w.logger.InfoContext(ctx, "archive_worker: run complete", slog.Int64("events", total))
	return total
}
