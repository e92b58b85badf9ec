package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries. The time
// window is [Since, Until).
type ListOpts struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Until    *time.Time
	AfterSeq uint64
	Kind     EventKind
}

// AssertionRecord is one round of the assertion history for a market.
type AssertionRecord struct {
	MarketID  uint64    `json:"market_id"`
	Round     int       `json:"round"`
	Assertion Assertion `json:"assertion"`
}

// Commit is the full set of writes produced by one ledger operation. Stores
// apply a Commit in a single transaction: either every write lands or none.
type Commit struct {
	Market    *Market
	Positions []Position
	Balances  []BalanceDelta
	Accrual   *FeeAccrual
	Assertion *AssertionRecord
	Events    []Event
}

// LedgerStore persists ledger state.
type LedgerStore interface {
	Apply(ctx context.Context, c Commit) error
	LoadMarkets(ctx context.Context) ([]Market, error)
	LoadPositions(ctx context.Context) ([]Position, error)
	LoadBalances(ctx context.Context) (map[Address]Amount, error)
	LoadAccruals(ctx context.Context) ([]FeeAccrual, error)
	ListEvents(ctx context.Context, marketID uint64, opts ListOpts) ([]Event, error)
	SumVolume(ctx context.Context, marketID uint64) (Amount, error)
	ListAssertions(ctx context.Context, marketID uint64) ([]AssertionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
