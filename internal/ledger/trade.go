package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/domain/schema"
	"github.com/alanyoungcy/lmsrmarket/internal/fees"
	"github.com/alanyoungcy/lmsrmarket/internal/lmsr"
)

// CreateParams are the caller-supplied fields of a new market.
type CreateParams struct {
	Question      string
	Outcomes      []string
	Duration      time.Duration
	Liquidity     domain.Liquidity
	CreatorFeeBps domain.Bps
}

func (l *Ledger) validateCreate(p CreateParams) error {
	n := len(p.Outcomes)
	if n < 2 || n > l.cfg.MaxOutcomes {
		return fmt.Errorf("%w: %d (want 2..%d)", domain.ErrInvalidOutcomeCount, n, l.cfg.MaxOutcomes)
	}
	q := strings.TrimSpace(p.Question)
	if q == "" || utf8.RuneCountInString(q) > l.cfg.MaxQuestionLen {
		return fmt.Errorf("%w: question must be 1..%d characters", domain.ErrInvalidMarket, l.cfg.MaxQuestionLen)
	}
	seen := make(map[string]struct{}, n)
	for i, o := range p.Outcomes {
		o = strings.TrimSpace(o)
		if o == "" {
			return fmt.Errorf("%w: outcome %d has an empty label", domain.ErrInvalidMarket, i)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("%w: duplicate outcome %q", domain.ErrInvalidMarket, o)
		}
		seen[o] = struct{}{}
	}
	if p.Duration <= 0 ||
		(l.cfg.MinDuration > 0 && p.Duration < l.cfg.MinDuration) ||
		(l.cfg.MaxDuration > 0 && p.Duration > l.cfg.MaxDuration) {
		return fmt.Errorf("%w: %s", domain.ErrInvalidDuration, p.Duration)
	}
	return p.Liquidity.Validate()
}

// CreateMarket opens a new market funded by the caller. The caller pays the
// LMSR worst-case loss ⌈b·ln n⌉ as subsidy, which seeds the pool.
func (l *Ledger) CreateMarket(ctx context.Context, caller domain.Address, p CreateParams) (domain.Market, error) {
	if err := l.validateCreate(p); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", err)
	}
	rates, err := l.access.RatesFor(p.CreatorFeeBps)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", err)
	}
	if err := l.access.Allow(ctx, caller); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", err)
	}

	n := len(p.Outcomes)
	subsidy := lmsr.MaxLoss(p.Liquidity, n)
	outcomes := make([]string, n)
	for i, o := range p.Outcomes {
		outcomes[i] = strings.TrimSpace(o)
	}

	l.createMu.Lock()
	defer l.createMu.Unlock()

	l.mu.RLock()
	id := l.nextID + 1
	l.mu.RUnlock()

	now := l.clock.Now()
	m := domain.Market{
		ID:             id,
		Question:       strings.TrimSpace(p.Question),
		Outcomes:       outcomes,
		Creator:        caller,
		CreatedAt:      now,
		EndTime:        now.Add(p.Duration),
		Liquidity:      p.Liquidity,
		Subsidy:        subsidy,
		Pool:           subsidy,
		Outstanding:    make([]domain.Shares, n),
		Status:         domain.MarketStatusOpen,
		WinningOutcome: -1,
		Fees:           rates,
		SchemaVersion:  schema.CurrentVersion,
	}
	events := []domain.Event{{
		Kind:    domain.EventMarketCreated,
		Actor:   caller,
		Outcome: -1,
		Amount:  subsidy,
		Detail: map[string]any{
			"question":         m.Question,
			"outcomes":         outcomes,
			"end_time":         m.EndTime,
			"liquidity":        int64(m.Liquidity),
			"protocol_fee_bps": rates.ProtocolBps,
			"creator_fee_bps":  rates.CreatorBps,
		},
	}}
	stamp(&m, now, events)

	deltas := []domain.BalanceDelta{{Holder: caller, Delta: -subsidy}}
	if err := l.vault.apply(deltas); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market: subsidy %s: %w", subsidy, err)
	}
	commit := domain.Commit{
		Market:   &m,
		Balances: deltas,
		Accrual:  &domain.FeeAccrual{MarketID: id},
		Events:   events,
	}
	if err := l.store.Apply(ctx, commit); err != nil {
		l.vault.revert(deltas)
		return domain.Market{}, fmt.Errorf("ledger: create market: persist: %w", err)
	}

	l.mu.Lock()
	l.markets[id] = &marketState{m: m.Clone(), positions: make(map[domain.Address][]domain.Shares)}
	l.nextID = id
	l.mu.Unlock()
	l.fees.Restore(domain.FeeAccrual{MarketID: id})

	l.logger.InfoContext(ctx, "ledger: market created",
		slog.Uint64("market_id", id),
		slog.String("creator", caller.Hex()),
		slog.Int("outcomes", n),
		slog.String("liquidity", m.Liquidity.String()),
		slog.String("subsidy", subsidy.String()),
	)
	l.publish(ctx, events)
	return m.Clone(), nil
}

func checkTradable(m *domain.Market, now time.Time, outcome int, shares domain.Shares) error {
	if shares <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrZeroShares, int64(shares))
	}
	if shares > domain.MaxShares {
		return fmt.Errorf("%w: %s > %s", domain.ErrShareLimit, shares, domain.MaxShares)
	}
	if m.Status != domain.MarketStatusOpen || m.HasEnded(now) {
		return fmt.Errorf("%w: market %d ended at %s", domain.ErrMarketHasEnded, m.ID, m.EndTime.Format(time.RFC3339))
	}
	if !m.ValidOutcome(outcome) {
		return fmt.Errorf("%w: %d of %d", domain.ErrInvalidOutcomeIndex, outcome, m.OutcomeCount())
	}
	return nil
}

// Buy purchases shares of one outcome. maxCost bounds the fee-inclusive
// amount debited; zero means unbounded.
func (l *Ledger) Buy(ctx context.Context, caller domain.Address, id uint64, outcome int, shares domain.Shares, maxCost domain.Amount) (domain.TradeReceipt, error) {
	st, err := l.state(id)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	st.mu.Lock()
	receipt, events, err := l.buyLocked(ctx, st, caller, outcome, shares, maxCost)
	st.mu.Unlock()
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("ledger: buy market %d: %w", id, err)
	}

	l.logger.InfoContext(ctx, "ledger: shares purchased",
		slog.Uint64("market_id", id),
		slog.String("buyer", caller.Hex()),
		slog.Int("outcome", outcome),
		slog.String("shares", shares.String()),
		slog.String("cost", receipt.Fees.Gross.String()),
	)
	l.publish(ctx, events)
	return receipt, nil
}

func (l *Ledger) buyLocked(ctx context.Context, st *marketState, caller domain.Address, outcome int, shares domain.Shares, maxCost domain.Amount) (domain.TradeReceipt, []domain.Event, error) {
	now := l.clock.Now()
	if err := checkTradable(&st.m, now, outcome, shares); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	cost, err := lmsr.BuyCost(st.m.Outstanding, st.m.Liquidity, outcome, shares, maxCost)
	if err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	split := fees.GrossUp(cost, st.m.Fees)
	if maxCost > 0 && split.Gross > maxCost {
		return domain.TradeReceipt{}, nil, fmt.Errorf("%w: cost %s > max %s", domain.ErrCostExceedsMax, split.Gross, maxCost)
	}

	next := st.m.Clone()
	if next.Outstanding[outcome], err = domain.AddShares(next.Outstanding[outcome], shares); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	if next.Pool, err = domain.AddAmount(next.Pool, split.Net); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	pos := st.position(caller)
	if pos[outcome], err = domain.AddShares(pos[outcome], shares); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	prices, err := lmsr.PricesBps(next.Outstanding, next.Liquidity)
	if err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	events := []domain.Event{{
		Kind:    domain.EventSharesPurchased,
		Actor:   caller,
		Outcome: outcome,
		Shares:  shares,
		Amount:  split.Gross,
		Detail:  feeDetail(split, prices),
	}}
	stamp(&next, now, events)

	if err := l.commitTrade(ctx, st, next, caller, pos, outcome, -split.Gross, split, events); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	return domain.TradeReceipt{
		MarketID:  next.ID,
		Trader:    caller,
		Side:      domain.SideBuy,
		Outcome:   outcome,
		Shares:    shares,
		Fees:      split,
		PricesBps: prices,
		Seq:       next.EventSeq,
	}, events, nil
}

// Sell returns shares of one outcome to the market maker. minProceeds bounds
// the amount credited after fees; zero means unbounded.
func (l *Ledger) Sell(ctx context.Context, caller domain.Address, id uint64, outcome int, shares domain.Shares, minProceeds domain.Amount) (domain.TradeReceipt, error) {
	st, err := l.state(id)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	st.mu.Lock()
	receipt, events, err := l.sellLocked(ctx, st, caller, outcome, shares, minProceeds)
	st.mu.Unlock()
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("ledger: sell market %d: %w", id, err)
	}

	l.logger.InfoContext(ctx, "ledger: shares sold",
		slog.Uint64("market_id", id),
		slog.String("seller", caller.Hex()),
		slog.Int("outcome", outcome),
		slog.String("shares", shares.String()),
		slog.String("proceeds", receipt.Fees.Net.String()),
	)
	l.publish(ctx, events)
	return receipt, nil
}

func (l *Ledger) sellLocked(ctx context.Context, st *marketState, caller domain.Address, outcome int, shares domain.Shares, minProceeds domain.Amount) (domain.TradeReceipt, []domain.Event, error) {
	now := l.clock.Now()
	if err := checkTradable(&st.m, now, outcome, shares); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	pos := st.position(caller)
	if pos[outcome] < shares {
		return domain.TradeReceipt{}, nil, fmt.Errorf("%w: holds %s shares of outcome %d, selling %s",
			domain.ErrInsufficientBalance, pos[outcome], outcome, shares)
	}
	refund, err := lmsr.SellProceeds(st.m.Outstanding, st.m.Liquidity, outcome, shares, 0)
	if err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	split := fees.Split(refund, st.m.Fees)
	if split.Net < minProceeds {
		return domain.TradeReceipt{}, nil, fmt.Errorf("%w: proceeds %s < min %s", domain.ErrProceedsBelowMin, split.Net, minProceeds)
	}
	if split.Gross > st.m.Pool {
		return domain.TradeReceipt{}, nil, fmt.Errorf("%w: pool %s cannot cover refund %s", domain.ErrInsufficientBalance, st.m.Pool, split.Gross)
	}

	next := st.m.Clone()
	next.Outstanding[outcome] -= shares
	next.Pool -= split.Gross
	pos[outcome] -= shares
	prices, err := lmsr.PricesBps(next.Outstanding, next.Liquidity)
	if err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	events := []domain.Event{{
		Kind:    domain.EventSharesSold,
		Actor:   caller,
		Outcome: outcome,
		Shares:  shares,
		Amount:  split.Net,
		Detail:  feeDetail(split, prices),
	}}
	stamp(&next, now, events)

	if err := l.commitTrade(ctx, st, next, caller, pos, outcome, split.Net, split, events); err != nil {
		return domain.TradeReceipt{}, nil, err
	}
	return domain.TradeReceipt{
		MarketID:  next.ID,
		Trader:    caller,
		Side:      domain.SideSell,
		Outcome:   outcome,
		Shares:    shares,
		Fees:      split,
		PricesBps: prices,
		Seq:       next.EventSeq,
	}, events, nil
}

// commitTrade moves the caller's balance, books fees and persists the trade.
// Any failure leaves memory exactly as it was.
func (l *Ledger) commitTrade(ctx context.Context, st *marketState, next domain.Market, caller domain.Address, pos []domain.Shares, outcome int, delta domain.Amount, split domain.FeeSplit, events []domain.Event) error {
	deltas := []domain.BalanceDelta{{Holder: caller, Delta: delta}}
	if err := l.vault.apply(deltas); err != nil {
		return err
	}
	prevAcc, nextAcc := l.fees.Accrue(next.ID, split)

	commit := domain.Commit{
		Market: &next,
		Positions: []domain.Position{{
			MarketID: next.ID,
			Holder:   caller,
			Outcome:  outcome,
			Shares:   pos[outcome],
		}},
		Balances: deltas,
		Accrual:  &nextAcc,
		Events:   events,
	}
	if err := l.store.Apply(ctx, commit); err != nil {
		l.vault.revert(deltas)
		l.fees.Restore(prevAcc)
		return fmt.Errorf("persist: %w", err)
	}
	st.m = next
	st.positions[caller] = pos
	return nil
}

// ClaimPayout pays the caller's winning shares out of the remaining pool:
// position × remainingPool / remainingWinningShares, floored. The last
// claimant receives whatever remains. All of the caller's positions in the
// market are zeroed so a second claim finds nothing.
func (l *Ledger) ClaimPayout(ctx context.Context, caller domain.Address, id uint64) (domain.Amount, error) {
	st, err := l.state(id)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	payout, events, err := l.claimLocked(ctx, st, caller)
	st.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("ledger: claim market %d: %w", id, err)
	}

	l.logger.InfoContext(ctx, "ledger: payout claimed",
		slog.Uint64("market_id", id),
		slog.String("holder", caller.Hex()),
		slog.String("payout", payout.String()),
	)
	l.publish(ctx, events)
	return payout, nil
}

func (l *Ledger) claimLocked(ctx context.Context, st *marketState, caller domain.Address) (domain.Amount, []domain.Event, error) {
	if st.m.Status != domain.MarketStatusResolved {
		return 0, nil, domain.ErrMarketNotResolved
	}
	w := st.m.WinningOutcome
	held, ok := st.positions[caller]
	if !ok || held[w] <= 0 {
		return 0, nil, domain.ErrNothingToClaim
	}
	winning := held[w]

	var payout domain.Amount
	if winning >= st.m.Outstanding[w] {
		payout = st.m.Pool
	} else {
		payout = domain.Amount(domain.MulDivFloor(int64(winning), int64(st.m.Pool), int64(st.m.Outstanding[w])))
	}

	next := st.m.Clone()
	next.Pool -= payout
	positions := make([]domain.Position, 0, len(held))
	for i, s := range held {
		if s == 0 {
			continue
		}
		next.Outstanding[i] -= s
		positions = append(positions, domain.Position{MarketID: next.ID, Holder: caller, Outcome: i})
	}
	now := l.clock.Now()
	events := []domain.Event{{
		Kind:    domain.EventPayoutClaimed,
		Actor:   caller,
		Outcome: w,
		Shares:  winning,
		Amount:  payout,
	}}
	stamp(&next, now, events)

	deltas := []domain.BalanceDelta{{Holder: caller, Delta: payout}}
	if err := l.vault.apply(deltas); err != nil {
		return 0, nil, err
	}
	commit := domain.Commit{
		Market:    &next,
		Positions: positions,
		Balances:  deltas,
		Events:    events,
	}
	if err := l.store.Apply(ctx, commit); err != nil {
		l.vault.revert(deltas)
		return 0, nil, fmt.Errorf("persist: %w", err)
	}
	st.m = next
	delete(st.positions, caller)
	return payout, events, nil
}

// WithdrawFees pays the caller's side of a market's fee accrual into their
// balance.
func (l *Ledger) WithdrawFees(ctx context.Context, caller domain.Address, id uint64, kind domain.FeeKind) (domain.Amount, error) {
	st, err := l.state(id)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	amount, events, err := l.withdrawFeesLocked(ctx, st, caller, kind)
	st.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("ledger: withdraw fees market %d: %w", id, err)
	}

	l.logger.InfoContext(ctx, "ledger: fees withdrawn",
		slog.Uint64("market_id", id),
		slog.String("recipient", caller.Hex()),
		slog.String("kind", string(kind)),
		slog.String("amount", amount.String()),
	)
	l.publish(ctx, events)
	return amount, nil
}

func (l *Ledger) withdrawFeesLocked(ctx context.Context, st *marketState, caller domain.Address, kind domain.FeeKind) (domain.Amount, []domain.Event, error) {
	amount, prevAcc, nextAcc, err := l.fees.Withdraw(caller, &st.m, kind)
	if err != nil {
		return 0, nil, err
	}
	next := st.m.Clone()
	events := []domain.Event{{
		Kind:    domain.EventFeesWithdrawn,
		Actor:   caller,
		Outcome: -1,
		Amount:  amount,
		Detail:  map[string]any{"kind": string(kind)},
	}}
	stamp(&next, l.clock.Now(), events)

	deltas := []domain.BalanceDelta{{Holder: caller, Delta: amount}}
	if err := l.vault.apply(deltas); err != nil {
		l.fees.Restore(prevAcc)
		return 0, nil, err
	}
	commit := domain.Commit{
		Market:   &next,
		Balances: deltas,
		Accrual:  &nextAcc,
		Events:   events,
	}
	if err := l.store.Apply(ctx, commit); err != nil {
		l.vault.revert(deltas)
		l.fees.Restore(prevAcc)
		return 0, nil, fmt.Errorf("persist: %w", err)
	}
	st.m = next
	return amount, events, nil
}

// position returns a copy of holder's share vector, allocating if needed.
func (st *marketState) position(holder domain.Address) []domain.Shares {
	out := make([]domain.Shares, st.m.OutcomeCount())
	copy(out, st.positions[holder])
	return out
}

func feeDetail(s domain.FeeSplit, prices []domain.Bps) map[string]any {
	return map[string]any{
		"gross":        int64(s.Gross),
		"net":          int64(s.Net),
		"protocol_fee": int64(s.Protocol),
		"creator_fee":  int64(s.Creator),
		"prices_bps":   prices,
	}
}
