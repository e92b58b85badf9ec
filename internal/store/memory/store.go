// Package memory implements the ledger store interfaces in process memory.
// It backs tests and throwaway development runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

type positionKey struct {
	market  uint64
	holder  domain.Address
	outcome int
}

// Store is a map-backed LedgerStore and AuditStore.
type Store struct {
	mu         sync.RWMutex
	markets    map[uint64]domain.Market
	positions  map[positionKey]domain.Shares
	balances   map[domain.Address]domain.Amount
	accruals   map[uint64]domain.FeeAccrual
	events     map[uint64][]domain.Event
	assertions map[uint64][]domain.AssertionRecord
	audit      []domain.AuditEntry

	failNext error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets:    make(map[uint64]domain.Market),
		positions:  make(map[positionKey]domain.Shares),
		balances:   make(map[domain.Address]domain.Amount),
		accruals:   make(map[uint64]domain.FeeAccrual),
		events:     make(map[uint64][]domain.Event),
		assertions: make(map[uint64][]domain.AssertionRecord),
	}
}

// FailNext makes the next Apply return err without writing anything.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Apply writes every part of c or nothing.
func (s *Store) Apply(_ context.Context, c domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	if c.Market != nil {
		s.markets[c.Market.ID] = c.Market.Clone()
	}
	for _, p := range c.Positions {
		k := positionKey{p.MarketID, p.Holder, p.Outcome}
		if p.Shares == 0 {
			delete(s.positions, k)
			continue
		}
		s.positions[k] = p.Shares
	}
	for _, b := range c.Balances {
		s.balances[b.Holder] += b.Delta
	}
	if c.Accrual != nil {
		s.accruals[c.Accrual.MarketID] = *c.Accrual
	}
	if c.Assertion != nil {
		s.upsertAssertion(*c.Assertion)
	}
	for _, e := range c.Events {
		s.events[e.MarketID] = append(s.events[e.MarketID], cloneEvent(e))
	}
	return nil
}

func (s *Store) upsertAssertion(r domain.AssertionRecord) {
	list := s.assertions[r.MarketID]
	for i := range list {
		if list[i].Round == r.Round {
			list[i] = r
			return
		}
	}
	s.assertions[r.MarketID] = append(list, r)
}

// LoadMarkets returns every market ordered by id.
func (s *Store) LoadMarkets(_ context.Context) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadPositions returns every non-zero position.
func (s *Store) LoadPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for k, v := range s.positions {
		out = append(out, domain.Position{MarketID: k.market, Holder: k.holder, Outcome: k.outcome, Shares: v})
	}
	return out, nil
}

// LoadBalances returns every holder balance.
func (s *Store) LoadBalances(_ context.Context) (map[domain.Address]domain.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Address]domain.Amount, len(s.balances))
	for h, b := range s.balances {
		out[h] = b
	}
	return out, nil
}

// LoadAccruals returns every fee accrual.
func (s *Store) LoadAccruals(_ context.Context) ([]domain.FeeAccrual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FeeAccrual, 0, len(s.accruals))
	for _, a := range s.accruals {
		out = append(out, a)
	}
	return out, nil
}

// ListEvents returns a market's events in sequence order.
func (s *Store) ListEvents(_ context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	skipped := 0
	for _, e := range s.events[marketID] {
		if !matches(e, opts) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, cloneEvent(e))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func matches(e domain.Event, opts domain.ListOpts) bool {
	if e.Seq <= opts.AfterSeq {
		return false
	}
	if opts.Kind != "" && e.Kind != opts.Kind {
		return false
	}
	if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !e.Timestamp.Before(*opts.Until) {
		return false
	}
	return true
}

// SumVolume adds costPaid over the market's SharesPurchased events.
func (s *Store) SumVolume(_ context.Context, marketID uint64) (domain.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Volume(s.events[marketID]), nil
}

// ListAssertions returns a market's assertion history by round.
func (s *Store) ListAssertions(_ context.Context, marketID uint64) ([]domain.AssertionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AssertionRecord(nil), s.assertions[marketID]...), nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	// Round-trip through JSON so callers cannot mutate stored detail.
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("memory: audit log: %w", err)
	}
	var copied map[string]any
	if err := json.Unmarshal(raw, &copied); err != nil {
		return fmt.Errorf("memory: audit log: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    copied,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	skip := opts.Offset
	for i := len(s.audit) - 1; i >= 0; i-- {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		e := s.audit[i]
		if opts.Kind != "" && e.Event != string(opts.Kind) {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func cloneEvent(e domain.Event) domain.Event {
	if e.Detail != nil {
		d := make(map[string]any, len(e.Detail))
		for k, v := range e.Detail {
			d[k] = v
		}
		e.Detail = d
	}
	return e
}
