package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/access"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/fees"
	"github.com/alanyoungcy/lmsrmarket/internal/store/memory"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	protocol = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
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

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, events []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	ledger *Ledger
	store  *memory.Store
	gate   *access.Gate
	dist   *fees.Distributor
	clock  *fakeClock
	pub    *recorder
	bals   *access.StaticBalances
}

func newFixture(t *testing.T, fs access.FeeSchedule) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bals := access.NewStaticBalances()
	gate, err := access.NewGate(
		access.Config{Owner: owner, ProtocolRecipient: protocol},
		access.CreationSettings{PublicCreation: true},
		fs, 1000, bals, logger,
	)
	require.NoError(t, err)

	f := &fixture{
		store: memory.New(),
		gate:  gate,
		dist:  fees.NewDistributor(gate),
		clock: &fakeClock{now: start},
		pub:   &recorder{},
		bals:  bals,
	}
	f.ledger = New(f.store, f.store, gate, f.dist, f.clock, f.pub,
		Config{MinDuration: time.Minute, MaxDuration: 365 * 24 * time.Hour}, logger)

	ctx := context.Background()
	for _, h := range []domain.Address{creator, alice, bob} {
		require.NoError(t, f.ledger.Credit(ctx, owner, h, 10_000_000000))
	}
	return f
}

func (f *fixture) market(t *testing.T, b domain.Liquidity, outcomes ...string) domain.Market {
	t.Helper()
	if len(outcomes) == 0 {
		outcomes = []string{"yes", "no"}
	}
	m, err := f.ledger.CreateMarket(context.Background(), creator, CreateParams{
		Question:  "Will it happen?",
		Outcomes:  outcomes,
		Duration:  24 * time.Hour,
		Liquidity: b,
	})
	require.NoError(t, err)
	return m
}

// requirePositionSum checks Σ positions == outstanding for every outcome.
func requirePositionSum(t *testing.T, l *Ledger, id uint64) {
	t.Helper()
	st, err := l.state(id)
	require.NoError(t, err)
	st.mu.RLock()
	defer st.mu.RUnlock()
	require.NoError(t, checkPositionSum(st.m.Outstanding, st.positions))
}

func TestCreateMarket(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{ProtocolBps: 100, MaxCreatorBps: 100})
	ctx := context.Background()

	m := f.market(t, 200_000000)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, domain.Amount(138_629437), m.Subsidy)
	assert.Equal(t, m.Subsidy, m.Pool)
	assert.Equal(t, start.Add(24*time.Hour), m.EndTime)
	assert.Equal(t, domain.FeeRates{ProtocolBps: 100}, m.Fees)
	assert.Equal(t, domain.Amount(10_000_000000)-m.Subsidy, f.ledger.Balance(creator))

	second := f.market(t, 50_000000, "a", "b", "c")
	assert.Equal(t, uint64(2), second.ID)

	snap, err := f.ledger.Prices(second.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Bps{3334, 3333, 3333}, snap.PricesBps)

	cases := []struct {
		name string
		p    CreateParams
		want error
	}{
		{"one outcome", CreateParams{Question: "q", Outcomes: []string{"a"}, Duration: time.Hour, Liquidity: 1_000000}, domain.ErrInvalidOutcomeCount},
		{"18 decimals", CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 2_000000_000000_000000}, domain.ErrInvalidLiquidityParameter},
		{"zero b", CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour}, domain.ErrInvalidLiquidityParameter},
		{"zero duration", CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Liquidity: 1_000000}, domain.ErrInvalidDuration},
		{"no question", CreateParams{Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000}, domain.ErrInvalidMarket},
		{"duplicate outcome", CreateParams{Question: "q", Outcomes: []string{"a", "a"}, Duration: time.Hour, Liquidity: 1_000000}, domain.ErrInvalidMarket},
		{"creator fee too high", CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000, CreatorFeeBps: 101}, domain.ErrInvalidFeeRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.CreateMarket(ctx, creator, tc.p)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	broke := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	_, err = f.ledger.CreateMarket(ctx, broke, CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Len(t, f.ledger.Markets(), 2)
}

func TestCreateMarket_Gated(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	token := common.HexToAddress("0x00000000000000000000000000000000000070c1")
	require.NoError(t, f.gate.SetCreationSettings(ctx, owner, access.CreationSettings{GatingToken: token}))

	// Zero minimum still requires a configured token, which is set.
	_, err := f.ledger.CreateMarket(ctx, alice, CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000})
	require.NoError(t, err)

	require.NoError(t, f.gate.SetCreationSettings(ctx, owner, access.CreationSettings{GatingToken: token, MinBalance: bigInt(5)}))
	_, err = f.ledger.CreateMarket(ctx, alice, CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000})
	assert.ErrorIs(t, err, domain.ErrCreationNotPermitted)

	f.bals.Set(token, alice, bigInt(5))
	_, err = f.ledger.CreateMarket(ctx, alice, CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000})
	assert.NoError(t, err)
}

func TestBuy_ReferenceScenario(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	r0, err := f.ledger.Buy(ctx, alice, m.ID, 0, 3_857800, 0)
	require.NoError(t, err)
	r1, err := f.ledger.Buy(ctx, bob, m.ID, 1, 2_007800, 0)
	require.NoError(t, err)

	want := 200e6 * (math.Log(math.Exp(3.8578/200)+math.Exp(2.0078/200)) - math.Log(2))
	assert.InDelta(t, want, float64(r0.CostPaid()+r1.CostPaid()), 2)
	assert.Equal(t, domain.BpsDenominator, sumBps(r1.PricesBps))

	vol, err := f.ledger.Volume(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, r0.CostPaid()+r1.CostPaid(), vol)

	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{3_857800, 2_007800}, got.Outstanding)
	assert.Equal(t, m.Subsidy+vol, got.Pool)
	assert.Equal(t, uint64(3), got.EventSeq)
	requirePositionSum(t, f.ledger, m.ID)

	assert.Equal(t, []domain.EventKind{domain.EventMarketCreated, domain.EventSharesPurchased, domain.EventSharesPurchased}, f.pub.kinds())
}

func TestBuy_EndTimeBoundary(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	f.clock.Set(m.EndTime.Add(-time.Nanosecond))
	_, err := f.ledger.Buy(ctx, alice, m.ID, 0, 1_000000, 0)
	require.NoError(t, err)

	f.clock.Set(m.EndTime)
	_, err = f.ledger.Buy(ctx, alice, m.ID, 0, 1_000000, 0)
	assert.ErrorIs(t, err, domain.ErrMarketHasEnded)
	_, err = f.ledger.Sell(ctx, alice, m.ID, 0, 1_000000, 0)
	assert.ErrorIs(t, err, domain.ErrMarketHasEnded)

	info, err := f.ledger.Info(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, info.Phase)
}

func TestBuy_Validation(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	_, err := f.ledger.Buy(ctx, alice, m.ID, 2, 1_000000, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomeIndex)
	_, err = f.ledger.Buy(ctx, alice, m.ID, 0, 0, 0)
	assert.ErrorIs(t, err, domain.ErrZeroShares)
	_, err = f.ledger.Buy(ctx, alice, 99, 0, 1, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	broke := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	_, err = f.ledger.Buy(ctx, broke, m.ID, 0, 1_000000, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = f.ledger.Buy(ctx, alice, m.ID, 0, 10_000000, 1_000000)
	assert.ErrorIs(t, err, domain.ErrCostExceedsMax)

	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{0, 0}, got.Outstanding)
	assert.Equal(t, domain.Amount(10_000_000000), f.ledger.Balance(alice))
}

func TestBuySell_RoundTripWithoutFees(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	_, err := f.ledger.Buy(ctx, bob, m.ID, 1, 7_500000, 0)
	require.NoError(t, err)

	before := f.ledger.Balance(alice)
	buy, err := f.ledger.Buy(ctx, alice, m.ID, 0, 12_345678, 0)
	require.NoError(t, err)

	_, err = f.ledger.Sell(ctx, alice, m.ID, 0, 12_345679, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	sell, err := f.ledger.Sell(ctx, alice, m.ID, 0, 12_345678, buy.CostPaid()+1)
	assert.ErrorIs(t, err, domain.ErrProceedsBelowMin)

	// Rounding favours the market maker by at most one base unit.
	sell, err = f.ledger.Sell(ctx, alice, m.ID, 0, 12_345678, buy.CostPaid()-1)
	require.NoError(t, err)
	assert.Contains(t, []domain.Amount{buy.CostPaid(), buy.CostPaid() - 1}, sell.Proceeds())
	assert.Equal(t, before-buy.CostPaid()+sell.Proceeds(), f.ledger.Balance(alice))

	pos, err := f.ledger.Position(m.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{0, 0}, pos)
	requirePositionSum(t, f.ledger, m.ID)
}

func TestTrade_FeesSplitExactly(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{ProtocolBps: 100, MaxCreatorBps: 50})
	ctx := context.Background()
	m, err := f.ledger.CreateMarket(ctx, creator, CreateParams{
		Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 100_000000, CreatorFeeBps: 50,
	})
	require.NoError(t, err)

	buy, err := f.ledger.Buy(ctx, alice, m.ID, 0, 33_333333, 0)
	require.NoError(t, err)
	s := buy.Fees
	assert.Equal(t, s.Gross, s.Protocol+s.Creator+s.Net)
	assert.Greater(t, int64(s.Protocol), int64(0))
	assert.Greater(t, int64(s.Creator), int64(0))

	sell, err := f.ledger.Sell(ctx, alice, m.ID, 0, 10_000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sell.Fees.Gross, sell.Fees.Protocol+sell.Fees.Creator+sell.Fees.Net)

	acc, err := f.ledger.Accrual(m.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Protocol+sell.Fees.Protocol, acc.Protocol)
	assert.Equal(t, s.Creator+sell.Fees.Creator, acc.Creator)

	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Subsidy+s.Net-sell.Fees.Gross, got.Pool)

	_, err = f.ledger.WithdrawFees(ctx, alice, m.ID, domain.FeeKindCreator)
	assert.ErrorIs(t, err, domain.ErrNotFeeRecipient)

	before := f.ledger.Balance(creator)
	amt, err := f.ledger.WithdrawFees(ctx, creator, m.ID, domain.FeeKindCreator)
	require.NoError(t, err)
	assert.Equal(t, acc.Creator, amt)
	assert.Equal(t, before+amt, f.ledger.Balance(creator))

	amt, err = f.ledger.WithdrawFees(ctx, protocol, m.ID, domain.FeeKindProtocol)
	require.NoError(t, err)
	assert.Equal(t, acc.Protocol, amt)
	assert.Equal(t, amt, f.ledger.Balance(protocol))
}

func TestTrade_PersistFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{ProtocolBps: 100})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	f.store.FailNext(errors.New("disk full"))
	_, err := f.ledger.Buy(ctx, alice, m.ID, 0, 5_000000, 0)
	require.ErrorContains(t, err, "disk full")

	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Outstanding, got.Outstanding)
	assert.Equal(t, m.Pool, got.Pool)
	assert.Equal(t, m.EventSeq, got.EventSeq)
	assert.Equal(t, domain.Amount(10_000_000000), f.ledger.Balance(alice))
	acc, err := f.ledger.Accrual(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeeAccrual{MarketID: m.ID}, acc)
	pos, err := f.ledger.Position(m.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{0, 0}, pos)
}

func resolve(t *testing.T, f *fixture, id uint64, winner int) {
	t.Helper()
	m, err := f.ledger.Market(id)
	require.NoError(t, err)
	f.clock.Set(m.EndTime)
	_, err = f.ledger.Transition(context.Background(), id, func(m *domain.Market, now time.Time) (Effects, error) {
		m.Status = domain.MarketStatusResolved
		m.WinningOutcome = winner
		m.ResolvedAt = &now
		return Effects{Events: []domain.Event{{Kind: domain.EventMarketResolved, Outcome: winner}}}, nil
	})
	require.NoError(t, err)
}

func TestClaimPayout_Proportional(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	_, err := f.ledger.ClaimPayout(ctx, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	_, err = f.ledger.Buy(ctx, alice, m.ID, 0, 60_000000, 0)
	require.NoError(t, err)
	_, err = f.ledger.Buy(ctx, bob, m.ID, 0, 40_000000, 0)
	require.NoError(t, err)
	_, err = f.ledger.Buy(ctx, bob, m.ID, 1, 25_000000, 0)
	require.NoError(t, err)

	resolve(t, f, m.ID, 0)
	before, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	pool := before.Pool

	aBal := f.ledger.Balance(alice)
	pa, err := f.ledger.ClaimPayout(ctx, alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(domain.MulDivFloor(60_000000, int64(pool), 100_000000)), pa)
	assert.GreaterOrEqual(t, int64(pa), int64(60_000000))
	assert.Equal(t, aBal+pa, f.ledger.Balance(alice))
	requirePositionSum(t, f.ledger, m.ID)

	_, err = f.ledger.ClaimPayout(ctx, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	pb, err := f.ledger.ClaimPayout(ctx, bob, m.ID)
	require.NoError(t, err)
	assert.Equal(t, pool, pa+pb)

	after, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), after.Pool)
	assert.Equal(t, []domain.Shares{0, 0}, after.Outstanding)
	requirePositionSum(t, f.ledger, m.ID)

	_, err = f.ledger.ClaimPayout(ctx, creator, m.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestTransition_RejectsPricingChanges(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	m := f.market(t, 200_000000)

	_, err := f.ledger.Transition(context.Background(), m.ID, func(m *domain.Market, _ time.Time) (Effects, error) {
		m.Pool++
		return Effects{}, nil
	})
	assert.Error(t, err)

	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Pool, got.Pool)
}

func TestLoad_RestoresState(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{ProtocolBps: 100})
	ctx := context.Background()
	m := f.market(t, 200_000000)
	_, err := f.ledger.Buy(ctx, alice, m.ID, 1, 9_000000, 0)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fresh := New(f.store, f.store, f.gate, fees.NewDistributor(f.gate), f.clock, nil, Config{}, logger)
	require.NoError(t, fresh.Load(ctx))

	want, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	got, err := fresh.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, f.ledger.Balance(alice), fresh.Balance(alice))

	wantAcc, _ := f.ledger.Accrual(m.ID)
	gotAcc, _ := fresh.Accrual(m.ID)
	assert.Equal(t, wantAcc, gotAcc)

	next, err := fresh.CreateMarket(ctx, creator, CreateParams{Question: "q", Outcomes: []string{"a", "b"}, Duration: time.Hour, Liquidity: 1_000000})
	require.NoError(t, err)
	assert.Equal(t, m.ID+1, next.ID)
}

func TestVault_CreditWithdraw(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()

	assert.ErrorIs(t, f.ledger.Credit(ctx, alice, alice, 1), domain.ErrNotOperator)
	assert.ErrorIs(t, f.ledger.Credit(ctx, owner, alice, 0), domain.ErrInvalidAmount)

	require.NoError(t, f.ledger.Withdraw(ctx, alice, 1_000000))
	assert.Equal(t, domain.Amount(9_999_000000), f.ledger.Balance(alice))
	assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, 10_000_000000), domain.ErrInsufficientBalance)
}

func TestBuy_ConcurrentTradersKeepInvariants(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{ProtocolBps: 30})
	ctx := context.Background()
	m := f.market(t, 500_000000, "a", "b", "c")

	traders := []domain.Address{alice, bob}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := traders[i%2]
			_, _ = f.ledger.Buy(ctx, who, m.ID, i%3, domain.Shares(1_000000+i*1000), 0)
			if i%5 == 0 {
				_, _ = f.ledger.Sell(ctx, who, m.ID, i%3, 500000, 0)
			}
		}(i)
	}
	wg.Wait()

	requirePositionSum(t, f.ledger, m.ID)
	snap, err := f.ledger.Prices(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BpsDenominator, sumBps(snap.PricesBps))

	events, err := f.ledger.Trades(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }

func sumBps(p []domain.Bps) int {
	var s int
	for _, v := range p {
		s += int(v)
	}
	return s
}

func TestBuy_ShareOverflowRejected(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)

	_, err := f.ledger.Buy(ctx, alice, m.ID, 0, 1_000000, 0)
	require.NoError(t, err)
	before := f.ledger.Balance(bob)

	_, err = f.ledger.Buy(ctx, bob, m.ID, 0, domain.Shares(math.MaxInt64-100), 0)
	assert.ErrorIs(t, err, domain.ErrShareLimit)

	// Within the per-trade cap but past it once added to what is outstanding.
	_, err = f.ledger.Buy(ctx, bob, m.ID, 0, domain.MaxShares, 0)
	assert.ErrorIs(t, err, domain.ErrShareLimit)

	assert.Equal(t, before, f.ledger.Balance(bob))
	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{1_000000, 0}, got.Outstanding)
	pos, err := f.ledger.Position(m.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{0, 0}, pos)
	requirePositionSum(t, f.ledger, m.ID)
}

func TestBuy_TinyTradesAreNeverFree(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000, "a", "b", "c")
	before := f.ledger.Balance(bob)

	for i := 0; i < 1000; i++ {
		r, err := f.ledger.Buy(ctx, bob, m.ID, 2, 1, 0)
		require.NoError(t, err)
		require.GreaterOrEqual(t, int64(r.CostPaid()), int64(1))
	}

	assert.LessOrEqual(t, int64(f.ledger.Balance(bob)), int64(before-1000))
	pos, err := f.ledger.Position(m.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, []domain.Shares{0, 0, 1000}, pos)
	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(got.Pool-m.Pool), int64(1000))
	requirePositionSum(t, f.ledger, m.ID)
}

func hasKind(kinds []domain.EventKind, k domain.EventKind) bool {
	for _, got := range kinds {
		if got == k {
			return true
		}
	}
	return false
}

func TestCorrect_OwnerOnlyAndAudited(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)
	_, err := f.ledger.Buy(ctx, alice, m.ID, 0, 10_000000, 0)
	require.NoError(t, err)
	prior, err := f.ledger.Prices(m.ID)
	require.NoError(t, err)
	pre, err := f.ledger.Market(m.ID)
	require.NoError(t, err)

	b := domain.Liquidity(100_000000)
	_, err = f.ledger.Correct(ctx, alice, m.ID, Correction{Liquidity: &b, Reason: "wrong b"})
	assert.ErrorIs(t, err, domain.ErrNotOperator)
	_, err = f.ledger.Correct(ctx, owner, m.ID, Correction{Liquidity: &b})
	assert.ErrorIs(t, err, domain.ErrInvalidCorrection)
	_, err = f.ledger.Correct(ctx, owner, m.ID, Correction{Reason: "nothing"})
	assert.ErrorIs(t, err, domain.ErrInvalidCorrection)

	got, err := f.ledger.Correct(ctx, owner, m.ID, Correction{Liquidity: &b, Reason: "wrong b"})
	require.NoError(t, err)
	assert.Equal(t, b, got.Liquidity)
	assert.Equal(t, []domain.Shares{10_000000, 0}, got.Outstanding)
	assert.Equal(t, pre.Pool, got.Pool)

	entries, err := f.store.List(ctx, domain.ListOpts{Kind: domain.EventKind("market_corrected")})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wrong b", entries[0].Detail["reason"])
	assert.Equal(t, float64(200_000000), entries[0].Detail["old_liquidity"])
	assert.Equal(t, float64(100_000000), entries[0].Detail["new_liquidity"])
	assert.True(t, hasKind(f.pub.kinds(), domain.EventMarketCorrected))

	snap, err := f.ledger.Prices(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BpsDenominator, sumBps(snap.PricesBps))
	assert.Greater(t, int(snap.PricesBps[0]), int(prior.PricesBps[0]))
	requirePositionSum(t, f.ledger, m.ID)
}

func TestCorrect_RejectsInvalidState(t *testing.T) {
	f := newFixture(t, access.FeeSchedule{})
	ctx := context.Background()
	m := f.market(t, 200_000000)
	_, err := f.ledger.Buy(ctx, alice, m.ID, 0, 10_000000, 0)
	require.NoError(t, err)

	tooSmall := domain.Liquidity(1)
	tooLarge := domain.MaxLiquidity + 1
	cases := []struct {
		name string
		c    Correction
		want error
	}{
		{"liquidity below range", Correction{Liquidity: &tooSmall}, domain.ErrInvalidLiquidityParameter},
		{"liquidity above range", Correction{Liquidity: &tooLarge}, domain.ErrInvalidLiquidityParameter},
		{"wrong length", Correction{Outstanding: []domain.Shares{10_000000, 0, 0}}, domain.ErrInvalidCorrection},
		{"negative", Correction{Outstanding: []domain.Shares{10_000000, -1}}, domain.ErrInvalidCorrection},
		// Outstanding can only be set to what holders actually own.
		{"diverges from positions", Correction{Outstanding: []domain.Shares{20_000000, 0}}, domain.ErrInvalidCorrection},
		{"drops live positions", Correction{Outstanding: []domain.Shares{0, 0}}, domain.ErrInvalidCorrection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.c.Reason = "fix"
			_, err := f.ledger.Correct(ctx, owner, m.ID, tc.c)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	got, err := f.ledger.Market(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Liquidity(200_000000), got.Liquidity)
	assert.Equal(t, []domain.Shares{10_000000, 0}, got.Outstanding)
	entries, err := f.store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, hasKind(f.pub.kinds(), domain.EventMarketCorrected))

	// Restating outstanding as the positions sum is accepted.
	_, err = f.ledger.Correct(ctx, owner, m.ID, Correction{Outstanding: []domain.Shares{10_000000, 0}, Reason: "resync"})
	require.NoError(t, err)

	resolve(t, f, m.ID, 0)
	b := domain.Liquidity(100_000000)
	_, err = f.ledger.Correct(ctx, owner, m.ID, Correction{Liquidity: &b, Reason: "late"})
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
}
