package resolution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const settlerLockKey = "resolution:settler"

// PendingLister lists markets with an assertion awaiting settlement.
type PendingLister interface {
	Pending() []uint64
}

// Settler periodically settles every assertion whose dispute window has
// elapsed. With a LockManager only one instance sweeps at a time.
type Settler struct {
	resolver *Resolver
	pending  PendingLister
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

// NewSettler creates a Settler. locks may be nil for single-instance
// deployments.
func NewSettler(resolver *Resolver, pending PendingLister, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *Settler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Settler{
		resolver: resolver,
		pending:  pending,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "settler")),
	}
}

// Run sweeps on every tick until ctx is cancelled. Call in a goroutine.
func (s *Settler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep settles what it can and returns the number of markets resolved.
func (s *Settler) Sweep(ctx context.Context) int {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, settlerLockKey, s.interval)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "settler: another instance holds the lock")
			return 0
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "settler: acquire lock failed", slog.String("error", err.Error()))
			return 0
		}
		defer unlock()
	}

	settled := 0
	for _, id := range s.pending.Pending() {
		_, err := s.resolver.Settle(ctx, id)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, domain.ErrDisputeWindowOpen), errors.Is(err, domain.ErrNoPendingAssertion):
		default:
			s.logger.ErrorContext(ctx, "settler: settle failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	if settled > 0 {
		s.logger.InfoContext(ctx, "settler: sweep complete", slog.Int("settled", settled))
	}
	return settled
}
