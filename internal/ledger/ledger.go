// Package ledger owns markets, positions and settlement balances. Every
// mutation of a market runs under that market's lock and is persisted as a
// single domain.Commit before it becomes visible in memory.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/fees"
	"github.com/alanyoungcy/lmsrmarket/internal/lmsr"
)

// AccessControl is the slice of the creation gate the ledger needs.
type AccessControl interface {
	Allow(ctx context.Context, caller domain.Address) error
	RequireOwner(caller domain.Address) error
	RatesFor(creatorBps domain.Bps) (domain.FeeRates, error)
}

// EventPublisher receives events after they are committed. Implementations
// must not block for long and report their own failures.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.Event)
}

// Config bounds market creation.
type Config struct {
	MinDuration    time.Duration
	MaxDuration    time.Duration
	MaxOutcomes    int
	MaxQuestionLen int
}

// Ledger is the market and position book.
type Ledger struct {
	store  domain.LedgerStore
	audit  domain.AuditStore
	access AccessControl
	fees   *fees.Distributor
	clock  domain.Clock
	events EventPublisher
	cfg    Config
	logger *slog.Logger

	vault *vault

	createMu sync.Mutex
	mu       sync.RWMutex
	markets  map[uint64]*marketState
	nextID   uint64
}

type marketState struct {
	mu        sync.RWMutex
	m         domain.Market
	positions map[domain.Address][]domain.Shares
}

// New creates an empty Ledger. Call Load to hydrate it from the store.
func New(
	store domain.LedgerStore,
	audit domain.AuditStore,
	access AccessControl,
	dist *fees.Distributor,
	clock domain.Clock,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *Ledger {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cfg.MaxOutcomes == 0 {
		cfg.MaxOutcomes = 32
	}
	if cfg.MaxQuestionLen == 0 {
		cfg.MaxQuestionLen = 1024
	}
	return &Ledger{
		store:   store,
		audit:   audit,
		access:  access,
		fees:    dist,
		clock:   clock,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
		vault:   newVault(),
		markets: make(map[uint64]*marketState),
	}
}

// Load hydrates markets, positions, balances and fee accruals from the store
// and re-checks that every market's outstanding vector equals the sum of its
// positions.
func (l *Ledger) Load(ctx context.Context) error {
	markets, err := l.store.LoadMarkets(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load markets: %w", err)
	}
	positions, err := l.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load positions: %w", err)
	}
	balances, err := l.store.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load balances: %w", err)
	}
	accruals, err := l.store.LoadAccruals(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load accruals: %w", err)
	}

	states := make(map[uint64]*marketState, len(markets))
	var maxID uint64
	for _, m := range markets {
		states[m.ID] = &marketState{m: m.Clone(), positions: make(map[domain.Address][]domain.Shares)}
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	for _, p := range positions {
		st, ok := states[p.MarketID]
		if !ok {
			return fmt.Errorf("ledger: load: position for unknown market %d", p.MarketID)
		}
		if !st.m.ValidOutcome(p.Outcome) {
			return fmt.Errorf("ledger: load: market %d: %w: %d", p.MarketID, domain.ErrInvalidOutcomeIndex, p.Outcome)
		}
		pos := st.positions[p.Holder]
		if pos == nil {
			pos = make([]domain.Shares, st.m.OutcomeCount())
			st.positions[p.Holder] = pos
		}
		pos[p.Outcome] = p.Shares
	}
	for id, st := range states {
		if err := checkPositionSum(st.m.Outstanding, st.positions); err != nil {
			return fmt.Errorf("ledger: load: market %d: %w", id, err)
		}
	}

	l.mu.Lock()
	l.markets = states
	l.nextID = maxID
	l.mu.Unlock()
	l.vault.load(balances)
	l.fees.Load(accruals)

	l.logger.InfoContext(ctx, "ledger: loaded",
		slog.Int("markets", len(markets)),
		slog.Int("positions", len(positions)),
		slog.Int("holders", len(balances)),
	)
	return nil
}

// Market returns a snapshot of one market.
func (l *Ledger) Market(id uint64) (domain.Market, error) {
	st, err := l.state(id)
	if err != nil {
		return domain.Market{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.m.Clone(), nil
}

// Info returns the basic-info view of a market at the current time.
func (l *Ledger) Info(id uint64) (domain.MarketInfo, error) {
	m, err := l.Market(id)
	if err != nil {
		return domain.MarketInfo{}, err
	}
	return m.Info(l.clock.Now()), nil
}

// Markets returns snapshots of every market ordered by id.
func (l *Ledger) Markets() []domain.Market {
	l.mu.RLock()
	states := make([]*marketState, 0, len(l.markets))
	for _, st := range l.markets {
		states = append(states, st)
	}
	l.mu.RUnlock()

	out := make([]domain.Market, 0, len(states))
	for _, st := range states {
		st.mu.RLock()
		out = append(out, st.m.Clone())
		st.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prices returns the current prices in basis points along with the event
// sequence they were computed at. Reading prices never mutates state.
func (l *Ledger) Prices(id uint64) (domain.PriceSnapshot, error) {
	st, err := l.state(id)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	bps, err := lmsr.PricesBps(st.m.Outstanding, st.m.Liquidity)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("ledger: prices %d: %w", id, err)
	}
	return domain.PriceSnapshot{
		MarketID:  id,
		PricesBps: bps,
		Seq:       st.m.EventSeq,
		At:        l.clock.Now(),
	}, nil
}

// Position returns holder's share vector in a market.
func (l *Ledger) Position(id uint64, holder domain.Address) ([]domain.Shares, error) {
	st, err := l.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]domain.Shares, st.m.OutcomeCount())
	copy(out, st.positions[holder])
	return out, nil
}

// Balance returns holder's settlement balance.
func (l *Ledger) Balance(holder domain.Address) domain.Amount {
	return l.vault.balance(holder)
}

// Accrual returns the fee accrual of a market.
func (l *Ledger) Accrual(id uint64) (domain.FeeAccrual, error) {
	if _, err := l.state(id); err != nil {
		return domain.FeeAccrual{}, err
	}
	return l.fees.Accrual(id), nil
}

// Volume is Σ costPaid over the market's stored SharesPurchased events.
func (l *Ledger) Volume(ctx context.Context, id uint64) (domain.Amount, error) {
	if _, err := l.state(id); err != nil {
		return 0, err
	}
	v, err := l.store.SumVolume(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("ledger: volume %d: %w", id, err)
	}
	return v, nil
}

// Trades lists the market's stored events.
func (l *Ledger) Trades(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Event, error) {
	if _, err := l.state(id); err != nil {
		return nil, err
	}
	return l.store.ListEvents(ctx, id, opts)
}

// Assertions lists the market's assertion history.
func (l *Ledger) Assertions(ctx context.Context, id uint64) ([]domain.AssertionRecord, error) {
	if _, err := l.state(id); err != nil {
		return nil, err
	}
	return l.store.ListAssertions(ctx, id)
}

// Now returns the ledger clock's time.
func (l *Ledger) Now() time.Time { return l.clock.Now() }

func (l *Ledger) state(id uint64) (*marketState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.markets[id]
	if !ok {
		return nil, fmt.Errorf("ledger: market %d: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

// stamp assigns market id, sequence numbers and timestamps to events and
// advances the market's EventSeq.
func stamp(m *domain.Market, now time.Time, events []domain.Event) {
	for i := range events {
		m.EventSeq++
		events[i].MarketID = m.ID
		events[i].Seq = m.EventSeq
		events[i].Timestamp = now
	}
}

func (l *Ledger) publish(ctx context.Context, events []domain.Event) {
	if l.events == nil || len(events) == 0 {
		return
	}
	l.events.Publish(ctx, events)
}

func checkPositionSum(outstanding []domain.Shares, positions map[domain.Address][]domain.Shares) error {
	sums := make([]domain.Shares, len(outstanding))
	for holder, pos := range positions {
		if len(pos) != len(outstanding) {
			return fmt.Errorf("%w: holder %s has %d outcomes, want %d",
				domain.ErrInvalidCorrection, holder.Hex(), len(pos), len(outstanding))
		}
		for i, s := range pos {
			if s < 0 {
				return fmt.Errorf("%w: holder %s outcome %d is negative", domain.ErrInvalidCorrection, holder.Hex(), i)
			}
			sums[i] += s
		}
	}
	for i := range outstanding {
		if sums[i] != outstanding[i] {
			return fmt.Errorf("%w: outcome %d outstanding %s, positions sum %s",
				domain.ErrInvalidCorrection, i, outstanding[i], sums[i])
		}
	}
	return nil
}
