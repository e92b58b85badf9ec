// Package resolution decides market outcomes by optimistic assertion: a
// bonded claim becomes final unless someone disputes it within the window.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/ledger"
)

// BondPolicy decides where a disputed assertion's bond goes.
type BondPolicy string

const (
	// BondReturn gives the bond back to the asserter.
	BondReturn BondPolicy = "return"
	// BondForfeitProtocol books the bond to the market's protocol fees.
	BondForfeitProtocol BondPolicy = "forfeit_protocol"
	// BondForfeitDisputer pays the bond to the disputer.
	BondForfeitDisputer BondPolicy = "forfeit_disputer"
)

// Valid reports whether p is a known policy.
func (p BondPolicy) Valid() bool {
	switch p {
	case BondReturn, BondForfeitProtocol, BondForfeitDisputer:
		return true
	}
	return false
}

// Config is per deployment; markets never override it.
type Config struct {
	DisputeWindow time.Duration
	MinBond       domain.Amount
	BondPolicy    BondPolicy
}

// Transitioner applies resolution steps to the ledger.
type Transitioner interface {
	Transition(ctx context.Context, id uint64, fn ledger.TransitionFunc) (domain.Market, error)
}

// Resolver runs the assertion state machine.
type Resolver struct {
	ledger Transitioner
	cfg    Config
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(l Transitioner, cfg Config, logger *slog.Logger) (*Resolver, error) {
	if cfg.DisputeWindow <= 0 {
		return nil, fmt.Errorf("resolution: %w: dispute window %s", domain.ErrInvalidDuration, cfg.DisputeWindow)
	}
	if cfg.MinBond < 0 {
		return nil, fmt.Errorf("resolution: %w: negative minimum bond", domain.ErrInvalidBond)
	}
	if cfg.BondPolicy == "" {
		cfg.BondPolicy = BondForfeitDisputer
	}
	if !cfg.BondPolicy.Valid() {
		return nil, fmt.Errorf("resolution: unknown bond policy %q", cfg.BondPolicy)
	}
	return &Resolver{
		ledger: l,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "resolution")),
	}, nil
}

// Deadline is the instant the pending assertion's dispute window closes.
// Disputes are accepted strictly before it; settlement from it onwards.
func (r *Resolver) Deadline(a *domain.Assertion) time.Time {
	return a.AssertedAt.Add(r.cfg.DisputeWindow)
}

// Assert submits a bonded claim that outcome won. The bond is debited from
// the caller's balance.
func (r *Resolver) Assert(ctx context.Context, caller domain.Address, id uint64, outcome int, bond domain.Amount) (domain.Market, error) {
	m, err := r.ledger.Transition(ctx, id, func(m *domain.Market, now time.Time) (ledger.Effects, error) {
		switch m.Phase(now) {
		case domain.PhaseResolved:
			return ledger.Effects{}, domain.ErrMarketAlreadyResolved
		case domain.PhaseAssertionPending:
			return ledger.Effects{}, domain.ErrAssertionPending
		case domain.PhaseOpen:
			return ledger.Effects{}, fmt.Errorf("%w: ends at %s", domain.ErrMarketNotEnded, m.EndTime.Format(time.RFC3339))
		}
		if !m.ValidOutcome(outcome) {
			return ledger.Effects{}, fmt.Errorf("%w: %d of %d", domain.ErrInvalidOutcomeIndex, outcome, m.OutcomeCount())
		}
		if bond < r.cfg.MinBond || bond < 0 {
			return ledger.Effects{}, fmt.Errorf("%w: %s below minimum %s", domain.ErrInvalidBond, bond, r.cfg.MinBond)
		}

		a := domain.Assertion{
			Asserter:   caller,
			Outcome:    outcome,
			Bond:       bond,
			AssertedAt: now,
			State:      domain.AssertionPending,
		}
		m.Rounds++
		m.Assertion = &a
		m.Status = domain.MarketStatusAssertionPending

		eff := ledger.Effects{
			Assertion: &domain.AssertionRecord{Round: m.Rounds, Assertion: a},
			Events: []domain.Event{{
				Kind:    domain.EventOutcomeAsserted,
				Actor:   caller,
				Outcome: outcome,
				Amount:  bond,
				Detail: map[string]any{
					"round":    m.Rounds,
					"deadline": now.Add(r.cfg.DisputeWindow),
				},
			}},
		}
		if bond > 0 {
			eff.Balances = []domain.BalanceDelta{{Holder: caller, Delta: -bond}}
		}
		return eff, nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("resolution: assert market %d: %w", id, err)
	}
	r.logger.InfoContext(ctx, "resolution: outcome asserted",
		slog.Uint64("market_id", id),
		slog.String("asserter", caller.Hex()),
		slog.Int("outcome", outcome),
		slog.String("bond", bond.String()),
		slog.Int("round", m.Rounds),
	)
	return m, nil
}

// Dispute challenges the pending assertion. The assertion is discarded, its
// bond handled by the deployment's policy, and the market accepts a new
// assertion.
func (r *Resolver) Dispute(ctx context.Context, caller domain.Address, id uint64) (domain.Market, error) {
	m, err := r.ledger.Transition(ctx, id, func(m *domain.Market, now time.Time) (ledger.Effects, error) {
		if m.Status == domain.MarketStatusResolved {
			return ledger.Effects{}, domain.ErrMarketAlreadyResolved
		}
		if m.Status != domain.MarketStatusAssertionPending || m.Assertion == nil {
			return ledger.Effects{}, domain.ErrNoPendingAssertion
		}
		if !now.Before(r.Deadline(m.Assertion)) {
			return ledger.Effects{}, fmt.Errorf("%w: closed at %s", domain.ErrDisputeWindowClosed, r.Deadline(m.Assertion).Format(time.RFC3339))
		}
		if caller == m.Assertion.Asserter {
			return ledger.Effects{}, domain.ErrSelfDispute
		}

		closed := *m.Assertion
		disputer := caller
		closed.State = domain.AssertionDisputed
		closed.Disputer = &disputer
		closed.ClosedAt = &now

		var eff ledger.Effects
		if closed.Bond > 0 {
			switch r.cfg.BondPolicy {
			case BondReturn:
				eff.Balances = []domain.BalanceDelta{{Holder: closed.Asserter, Delta: closed.Bond}}
			case BondForfeitProtocol:
				eff.Forfeit = closed.Bond
			case BondForfeitDisputer:
				eff.Balances = []domain.BalanceDelta{{Holder: caller, Delta: closed.Bond}}
			}
		}
		eff.Assertion = &domain.AssertionRecord{Round: m.Rounds, Assertion: closed}
		eff.Events = []domain.Event{{
			Kind:    domain.EventAssertionDisputed,
			Actor:   caller,
			Outcome: closed.Outcome,
			Amount:  closed.Bond,
			Detail: map[string]any{
				"round":       m.Rounds,
				"asserter":    closed.Asserter.Hex(),
				"bond_policy": string(r.cfg.BondPolicy),
			},
		}}

		m.Assertion = nil
		m.Status = domain.MarketStatusDisputed
		return eff, nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("resolution: dispute market %d: %w", id, err)
	}
	r.logger.InfoContext(ctx, "resolution: assertion disputed",
		slog.Uint64("market_id", id),
		slog.String("disputer", caller.Hex()),
		slog.String("bond_policy", string(r.cfg.BondPolicy)),
		slog.Int("round", m.Rounds),
	)
	return m, nil
}

// Settle finalizes an undisputed assertion once its window has elapsed and
// returns the bond to the asserter. Anyone may call it.
func (r *Resolver) Settle(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := r.ledger.Transition(ctx, id, func(m *domain.Market, now time.Time) (ledger.Effects, error) {
		if m.Status == domain.MarketStatusResolved {
			return ledger.Effects{}, domain.ErrMarketAlreadyResolved
		}
		if m.Status != domain.MarketStatusAssertionPending || m.Assertion == nil {
			return ledger.Effects{}, domain.ErrNoPendingAssertion
		}
		if now.Before(r.Deadline(m.Assertion)) {
			return ledger.Effects{}, fmt.Errorf("%w: until %s", domain.ErrDisputeWindowOpen, r.Deadline(m.Assertion).Format(time.RFC3339))
		}

		accepted := *m.Assertion
		accepted.State = domain.AssertionAccepted
		accepted.ClosedAt = &now

		m.Assertion = &accepted
		m.Status = domain.MarketStatusResolved
		m.WinningOutcome = accepted.Outcome
		m.ResolvedAt = &now

		eff := ledger.Effects{
			Assertion: &domain.AssertionRecord{Round: m.Rounds, Assertion: accepted},
			Events: []domain.Event{{
				Kind:    domain.EventMarketResolved,
				Actor:   accepted.Asserter,
				Outcome: accepted.Outcome,
				Amount:  accepted.Bond,
				Detail:  map[string]any{"round": m.Rounds},
			}},
		}
		if accepted.Bond > 0 {
			eff.Balances = []domain.BalanceDelta{{Holder: accepted.Asserter, Delta: accepted.Bond}}
		}
		return eff, nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("resolution: settle market %d: %w", id, err)
	}
	r.logger.InfoContext(ctx, "resolution: market resolved",
		slog.Uint64("market_id", id),
		slog.Int("winning_outcome", m.WinningOutcome),
		slog.Int("rounds", m.Rounds),
	)
	return m, nil
}
