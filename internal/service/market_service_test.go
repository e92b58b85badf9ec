package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/access"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/fees"
	"github.com/alanyoungcy/lmsrmarket/internal/ledger"
	"github.com/alanyoungcy/lmsrmarket/internal/resolution"
	"github.com/alanyoungcy/lmsrmarket/internal/store/memory"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	start  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window = time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakePrices struct {
	mu      sync.Mutex
	snaps   map[uint64]domain.PriceSnapshot
	sets    int
	getErr  error
	dropped []uint64
}

func newFakePrices() *fakePrices { return &fakePrices{snaps: make(map[uint64]domain.PriceSnapshot)} }

func (f *fakePrices) Set(_ context.Context, snap domain.PriceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.snaps[snap.MarketID] = snap
	return nil
}

func (f *fakePrices) Get(_ context.Context, id uint64) (domain.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.PriceSnapshot{}, f.getErr
	}
	snap, ok := f.snaps[id]
	if !ok {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakePrices) Invalidate(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, id)
	f.dropped = append(f.dropped, id)
	return nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	trades  []uint64
	markets []uint64
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, id uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, id)
	return 1, nil
}

func (f *fakeArchiver) ArchiveMarket(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, m.ID)
	return nil
}

func (f *fakeArchiver) ListArchives(_ context.Context, id uint64) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for _, t := range f.trades {
		if t == id {
			out = append(out, domain.BlobInfo{Path: "trades/export.jsonl"})
		}
	}
	return out, nil
}

type env struct {
	svc      *MarketService
	ledger   *ledger.Ledger
	clock    *fakeClock
	prices   *fakePrices
	archiver *fakeArchiver
	metrics  *Metrics
	store    *memory.Store
	market   domain.Market
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate, err := access.NewGate(
		access.Config{Owner: owner, ProtocolRecipient: owner},
		access.CreationSettings{PublicCreation: true},
		access.FeeSchedule{ProtocolBps: 100, MaxCreatorBps: 100}, 1000, nil, logger,
	)
	require.NoError(t, err)

	st := memory.New()
	clock := &fakeClock{now: start}
	prices := newFakePrices()
	metrics := PrometheusMetrics("test", prometheus.NewRegistry())
	pub := NewBusPublisher(nil, prices, metrics, logger)
	l := ledger.New(st, st, gate, fees.NewDistributor(gate), clock, pub, ledger.Config{}, logger)
	r, err := resolution.NewResolver(l, resolution.Config{DisputeWindow: window}, logger)
	require.NoError(t, err)
	arch := &fakeArchiver{}
	svc := NewMarketService(l, r, gate, st, prices, arch, metrics, logger)

	require.NoError(t, svc.Credit(ctx, owner, alice, 1_000_000000))
	require.NoError(t, svc.Credit(ctx, owner, bob, 1_000_000000))
	m, err := svc.CreateMarket(ctx, alice, ledger.CreateParams{
		Question: "Who?", Outcomes: []string{"x", "y"}, Duration: time.Hour, Liquidity: 50_000000,
	})
	require.NoError(t, err)
	return &env{svc: svc, ledger: l, clock: clock, prices: prices, archiver: arch, metrics: metrics, store: st, market: m}
}

func TestPrices_CacheFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.market.ID

	first, err := e.svc.Prices(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []domain.Bps{5000, 5000}, first.PricesBps)
	assert.Equal(t, 1, e.prices.sets)

	second, err := e.svc.Prices(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.prices.sets)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.PriceCacheHits.WithLabelValues("hit")))

	// A trade invalidates through the publisher.
	_, err = e.svc.Buy(ctx, bob, id, 0, 5_000000, 0)
	require.NoError(t, err)
	assert.Contains(t, e.prices.dropped, id)

	third, err := e.svc.Prices(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, third.PricesBps[0], third.PricesBps[1])
	assert.Greater(t, third.Seq, first.Seq)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Trades.WithLabelValues("buy")))
}

func TestPrices_StaleOrBrokenCacheFallsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.market.ID

	require.NoError(t, e.prices.Set(ctx, domain.PriceSnapshot{MarketID: id, PricesBps: []domain.Bps{1, 9999}, Seq: 0}))
	snap, err := e.svc.Prices(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []domain.Bps{5000, 5000}, snap.PricesBps)

	e.prices.getErr = errors.New("connection refused")
	snap, err = e.svc.Prices(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []domain.Bps{5000, 5000}, snap.PricesBps)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.PriceCacheHits.WithLabelValues("error")))

	_, err = e.svc.Prices(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaim_SettlesExpiredAssertion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.market.ID

	_, err := e.svc.Buy(ctx, bob, id, 1, 10_000000, 0)
	require.NoError(t, err)

	e.clock.Set(e.market.EndTime)
	_, err = e.svc.Assert(ctx, alice, id, 1, 0)
	require.NoError(t, err)

	_, err = e.svc.Claim(ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	e.clock.Set(e.market.EndTime.Add(window))
	before := e.svc.Balance(bob)
	paid, err := e.svc.Claim(ctx, bob, id)
	require.NoError(t, err)
	assert.Positive(t, int64(paid))
	assert.Equal(t, before+paid, e.svc.Balance(bob))

	info, err := e.svc.Info(id)
	require.NoError(t, err)
	assert.True(t, info.Resolved)
	assert.Equal(t, []uint64{id}, e.archiver.markets)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Resolutions.WithLabelValues("settle")))
}

func TestAdmin_OwnerOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Archive(ctx, alice, e.market.ID)
	assert.ErrorIs(t, err, domain.ErrNotOperator)
	n, err := e.svc.Archive(ctx, owner, e.market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.svc.Archives(ctx, alice, e.market.ID)
	assert.ErrorIs(t, err, domain.ErrNotOperator)
	objs, err := e.svc.Archives(ctx, owner, e.market.ID)
	require.NoError(t, err)
	assert.Len(t, objs, 1)
	_, err = e.svc.Archives(ctx, owner, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = e.svc.SetFees(ctx, alice, access.FeeSchedule{ProtocolBps: 50})
	assert.ErrorIs(t, err, domain.ErrNotOperator)
	require.NoError(t, e.svc.SetFees(ctx, owner, access.FeeSchedule{ProtocolBps: 50, MaxCreatorBps: 25}))
	assert.Equal(t, domain.Bps(50), e.svc.Fees().ProtocolBps)

	_, err = e.svc.Audit(ctx, alice, domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotOperator)
	entries, err := e.svc.Audit(ctx, owner, domain.ListOpts{Kind: "fees_updated"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 50, entries[0].Detail["protocol_bps"])
}

func TestListMarkets_Paginates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.svc.CreateMarket(ctx, bob, ledger.CreateParams{
			Question: "More?", Outcomes: []string{"a", "b", "c"}, Duration: time.Hour, Liquidity: 10_000000,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, e.svc.Count())

	page := e.svc.ListMarkets(domain.ListOpts{Limit: 2, Offset: 1})
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].ID)
	assert.Equal(t, uint64(3), page[1].ID)
}

func TestArchiveWorker_RunOnce(t *testing.T) {
	e := newEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewArchiveWorker(e.ledger, e.archiver, nil, time.Minute, logger)
	assert.Equal(t, int64(1), w.RunOnce(context.Background()))
	assert.Equal(t, []uint64{e.market.ID}, e.archiver.trades)
	assert.Empty(t, e.archiver.markets)
}
