package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// setIfNewerLua stores a snapshot only when its sequence is ahead of the
// cached one, so a slow writer cannot replace fresher prices.
const setIfNewerLua = `
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// defaultPriceTTL bounds how long an unused snapshot stays cached.
const defaultPriceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's snapshot is stored at key "prices:{marketID}" with fields
// "seq" and "data" (the JSON-encoded snapshot).
type PriceCache struct {
	rdb   *redis.Client
	setSc *redis.Script
	ttl   time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// uses ten minutes.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = defaultPriceTTL
	}
	return &PriceCache{
		rdb:   c.rdb,
		setSc: redis.NewScript(setIfNewerLua),
		ttl:   ttl,
	}
}

func priceKey(marketID uint64) string {
	return "prices:" + strconv.FormatUint(marketID, 10)
}

// Set caches snap unless a snapshot at a later sequence is already cached.
func (pc *PriceCache) Set(ctx context.Context, snap domain.PriceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal prices %d: %w", snap.MarketID, err)
	}
	err = pc.setSc.Run(ctx, pc.rdb,
		[]string{priceKey(snap.MarketID)},
		snap.Seq, data, pc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set prices %d: %w", snap.MarketID, err)
	}
	return nil
}

// Get returns the cached snapshot, or domain.ErrNotFound on a miss.
func (pc *PriceCache) Get(ctx context.Context, marketID uint64) (domain.PriceSnapshot, error) {
	data, err := pc.rdb.HGet(ctx, priceKey(marketID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: get prices %d: %w", marketID, err)
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: decode prices %d: %w", marketID, err)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot for a market.
func (pc *PriceCache) Invalidate(ctx context.Context, marketID uint64) error {
	if err := pc.rdb.Del(ctx, priceKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate prices %d: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
