package domain

import (
	"context"
	"time"
)

// PriceSnapshot is a cached getAllPrices result. Seq is the event sequence
// the snapshot was computed at.
type PriceSnapshot struct {
	MarketID  uint64    `json:"market_id"`
	PricesBps []Bps     `json:"prices_bps"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
}

// PriceCache stores the latest price snapshot per market.
type PriceCache interface {
	Set(ctx context.Context, snap PriceSnapshot) error
	Get(ctx context.Context, marketID uint64) (PriceSnapshot, error)
	Invalidate(ctx context.Context, marketID uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
