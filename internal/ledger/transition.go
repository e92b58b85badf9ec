package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Effects are the side effects of a resolution step, applied in the same
// commit as the market change.
type Effects struct {
	// Balances are signed; debits are checked against the holder's balance.
	Balances  []domain.BalanceDelta
	Forfeit   domain.Amount
	Assertion *domain.AssertionRecord
	Events    []domain.Event
}

// TransitionFunc mutates m in place and reports the effects. It must not
// touch outstanding shares, the pool or the liquidity parameter.
type TransitionFunc func(m *domain.Market, now time.Time) (Effects, error)

// Transition runs fn under the market's lock and persists the result. It is
// the only way resolution state changes.
func (l *Ledger) Transition(ctx context.Context, id uint64, fn TransitionFunc) (domain.Market, error) {
	st, err := l.state(id)
	if err != nil {
		return domain.Market{}, err
	}
	st.mu.Lock()
	m, events, err := l.transitionLocked(ctx, st, fn)
	st.mu.Unlock()
	if err != nil {
		return domain.Market{}, err
	}
	l.publish(ctx, events)
	return m, nil
}

func (l *Ledger) transitionLocked(ctx context.Context, st *marketState, fn TransitionFunc) (domain.Market, []domain.Event, error) {
	now := l.clock.Now()
	next := st.m.Clone()
	eff, err := fn(&next, now)
	if err != nil {
		return domain.Market{}, nil, err
	}
	if next.ID != st.m.ID ||
		next.Pool != st.m.Pool ||
		next.Liquidity != st.m.Liquidity ||
		!slices.Equal(next.Outstanding, st.m.Outstanding) {
		return domain.Market{}, nil, fmt.Errorf("ledger: transition market %d: shares, pool and liquidity are immutable here", st.m.ID)
	}
	stamp(&next, now, eff.Events)

	if err := l.vault.apply(eff.Balances); err != nil {
		return domain.Market{}, nil, err
	}
	commit := domain.Commit{
		Market:    &next,
		Balances:  eff.Balances,
		Assertion: eff.Assertion,
		Events:    eff.Events,
	}
	var prevAcc domain.FeeAccrual
	if eff.Forfeit > 0 {
		var nextAcc domain.FeeAccrual
		prevAcc, nextAcc = l.fees.Forfeit(next.ID, eff.Forfeit)
		commit.Accrual = &nextAcc
	}
	if commit.Assertion != nil {
		commit.Assertion.MarketID = next.ID
	}
	if err := l.store.Apply(ctx, commit); err != nil {
		l.vault.revert(eff.Balances)
		if eff.Forfeit > 0 {
			l.fees.Restore(prevAcc)
		}
		return domain.Market{}, nil, fmt.Errorf("ledger: transition market %d: persist: %w", next.ID, err)
	}
	st.m = next
	return next.Clone(), eff.Events, nil
}

// Pending returns the ids of markets with an assertion awaiting settlement.
func (l *Ledger) Pending() []uint64 {
	var ids []uint64
	for _, m := range l.Markets() {
		if m.Status == domain.MarketStatusAssertionPending {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
