package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/lmsr"
)

// Correction replaces pricing state of a market that was created with bad
// parameters. Nil or empty fields are left unchanged.
type Correction struct {
	Liquidity   *domain.Liquidity `json:"liquidity,omitempty"`
	Outstanding []domain.Shares   `json:"outstanding,omitempty"`
	Reason      string            `json:"reason"`
}

// Correct applies an owner-only correction. Every invariant a normal trade
// keeps is re-checked on the result before it is committed, and the old and
// new values are written to the audit log.
func (l *Ledger) Correct(ctx context.Context, caller domain.Address, id uint64, c Correction) (domain.Market, error) {
	if err := l.access.RequireOwner(caller); err != nil {
		return domain.Market{}, err
	}
	if c.Liquidity == nil && c.Outstanding == nil {
		return domain.Market{}, fmt.Errorf("ledger: correct market %d: %w: nothing to change", id, domain.ErrInvalidCorrection)
	}
	if c.Reason == "" {
		return domain.Market{}, fmt.Errorf("ledger: correct market %d: %w: reason is required", id, domain.ErrInvalidCorrection)
	}
	st, err := l.state(id)
	if err != nil {
		return domain.Market{}, err
	}

	st.mu.Lock()
	prev, next, events, err := l.correctLocked(ctx, st, caller, c)
	st.mu.Unlock()
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: correct market %d: %w", id, err)
	}

	detail := map[string]any{
		"market_id":       id,
		"caller":          caller.Hex(),
		"reason":          c.Reason,
		"old_liquidity":   int64(prev.Liquidity),
		"new_liquidity":   int64(next.Liquidity),
		"old_outstanding": prev.Outstanding,
		"new_outstanding": next.Outstanding,
	}
	if l.audit != nil {
		if err := l.audit.Log(ctx, "market_corrected", detail); err != nil {
			l.logger.ErrorContext(ctx, "ledger: audit log failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	l.logger.WarnContext(ctx, "ledger: market corrected",
		slog.Uint64("market_id", id),
		slog.String("caller", caller.Hex()),
		slog.String("reason", c.Reason),
		slog.String("old_liquidity", prev.Liquidity.String()),
		slog.String("new_liquidity", next.Liquidity.String()),
	)
	l.publish(ctx, events)
	return next, nil
}

func (l *Ledger) correctLocked(ctx context.Context, st *marketState, caller domain.Address, c Correction) (domain.Market, domain.Market, []domain.Event, error) {
	prev := st.m.Clone()
	if prev.Status == domain.MarketStatusResolved {
		return prev, prev, nil, domain.ErrMarketAlreadyResolved
	}
	next := st.m.Clone()
	if c.Liquidity != nil {
		if err := c.Liquidity.Validate(); err != nil {
			return prev, prev, nil, err
		}
		next.Liquidity = *c.Liquidity
	}
	if c.Outstanding != nil {
		if len(c.Outstanding) != next.OutcomeCount() {
			return prev, prev, nil, fmt.Errorf("%w: outstanding has %d entries, market has %d outcomes",
				domain.ErrInvalidCorrection, len(c.Outstanding), next.OutcomeCount())
		}
		for i, s := range c.Outstanding {
			if s < 0 {
				return prev, prev, nil, fmt.Errorf("%w: outstanding[%d] is negative", domain.ErrInvalidCorrection, i)
			}
		}
		next.Outstanding = append([]domain.Shares(nil), c.Outstanding...)
	}
	if err := checkPositionSum(next.Outstanding, st.positions); err != nil {
		return prev, prev, nil, err
	}
	prices, err := lmsr.PricesBps(next.Outstanding, next.Liquidity)
	if err != nil {
		return prev, prev, nil, err
	}
	if sum := lmsr.SumBps(prices); sum != domain.BpsDenominator {
		return prev, prev, nil, fmt.Errorf("%w: prices sum to %d bps", domain.ErrInvalidCorrection, sum)
	}

	events := []domain.Event{{
		Kind:    domain.EventMarketCorrected,
		Actor:   caller,
		Outcome: -1,
		Detail: map[string]any{
			"reason":          c.Reason,
			"old_liquidity":   int64(prev.Liquidity),
			"new_liquidity":   int64(next.Liquidity),
			"old_outstanding": prev.Outstanding,
			"new_outstanding": next.Outstanding,
			"prices_bps":      prices,
		},
	}}
	stamp(&next, l.clock.Now(), events)

	if err := l.store.Apply(ctx, domain.Commit{Market: &next, Events: events}); err != nil {
		return prev, prev, nil, fmt.Errorf("persist: %w", err)
	}
	st.m = next
	return prev, next.Clone(), events, nil
}
