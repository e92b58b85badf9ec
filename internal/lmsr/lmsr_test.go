package lmsr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const b200 = domain.Liquidity(200_000000)

func TestCostDelta_ReferenceScenario(t *testing.T) {
	q := []domain.Shares{0, 0}

	c0, err := CostDelta(q, b200, 0, 3_857800)
	require.NoError(t, err)
	q[0] += 3_857800

	c1, err := CostDelta(q, b200, 1, 2_007800)
	require.NoError(t, err)

	want := 200e6 * (math.Log(math.Exp(3.8578/200)+math.Exp(2.0078/200)) - math.Log(2))
	assert.InDelta(t, want, float64(c0+c1), 2)
	assert.Greater(t, int64(c0), int64(0))
	assert.Greater(t, int64(c1), int64(0))
}

func TestCostDelta_Antisymmetric(t *testing.T) {
	cases := []struct {
		q     []domain.Shares
		k     int
		delta domain.Shares
	}{
		{[]domain.Shares{0, 0}, 0, 1},
		{[]domain.Shares{3_857800, 2_007800}, 1, 1_500000},
		{[]domain.Shares{10_000000, 0, 250_000000}, 2, 77_123456},
		{[]domain.Shares{0, 0, 0, 0}, 3, 999_999999},
	}
	for _, tc := range cases {
		up, err := CostDelta(tc.q, b200, tc.k, tc.delta)
		require.NoError(t, err)

		next := append([]domain.Shares(nil), tc.q...)
		next[tc.k] += tc.delta
		down, err := CostDelta(next, b200, tc.k, -tc.delta)
		require.NoError(t, err)

		// Both legs round toward the market maker, so a round trip leaves
		// it at most one base unit ahead.
		gap := int64(up + down)
		assert.True(t, gap == 0 || gap == 1, "q=%v k=%d delta=%d up=%d down=%d", tc.q, tc.k, tc.delta, up, down)
	}
}

func TestCostDelta_OneUnitNeverFree(t *testing.T) {
	vectors := [][]domain.Shares{
		{0, 0, 0},
		{0, 50_000000, 200_000000},
		{0, 1_000_000000},
	}
	for _, q := range vectors {
		for k := range q {
			c, err := BuyCost(q, b200, k, 1, 0)
			require.NoError(t, err, "q=%v k=%d", q, k)
			assert.GreaterOrEqual(t, int64(c), int64(1), "q=%v k=%d", q, k)
		}
	}

	// Deep in the tail the cost underflows to zero and the buy is refused.
	_, err := BuyCost([]domain.Shares{900_000_000000, 0}, b200, 1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrZeroShares)

	// A thousand one-unit buys cost at least as much as one buy of the total.
	q := []domain.Shares{0, 0, 0}
	var paid domain.Amount
	for i := 0; i < 1000; i++ {
		c, err := BuyCost(q, b200, 0, 1, 0)
		require.NoError(t, err)
		paid += c
		q[0]++
	}
	whole, err := CostDelta([]domain.Shares{0, 0, 0}, b200, 0, 1000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(paid), int64(whole))
}

func TestCostDelta_ShareLimit(t *testing.T) {
	q := []domain.Shares{1_000000, 0}

	_, err := CostDelta(q, b200, 0, domain.Shares(math.MaxInt64-100))
	assert.ErrorIs(t, err, domain.ErrShareLimit)

	_, err = BuyCost(q, b200, 0, domain.MaxShares, 0)
	assert.ErrorIs(t, err, domain.ErrShareLimit)

	// The largest legal buy prices finitely and below its payout.
	c, err := BuyCost([]domain.Shares{0, 0}, b200, 0, domain.MaxShares, 0)
	require.NoError(t, err)
	assert.Positive(t, int64(c))
	assert.LessOrEqual(t, int64(c), int64(domain.MaxShares))
}

func TestCostDelta_Validation(t *testing.T) {
	q := []domain.Shares{0, 0}

	_, err := CostDelta(q, b200, 0, 0)
	assert.ErrorIs(t, err, domain.ErrZeroShares)

	_, err = CostDelta(q, b200, 2, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomeIndex)

	_, err = CostDelta(q, b200, -1, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomeIndex)

	_, err = CostDelta(q, 0, 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidityParameter)

	// 2 units supplied at 18 decimals.
	_, err = CostDelta(q, domain.Liquidity(2_000000000000000000), 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidityParameter)
}

func TestBuyCostAndSellProceeds_Bounds(t *testing.T) {
	q := []domain.Shares{0, 0}

	c, err := BuyCost(q, b200, 0, 10_000000, 0)
	require.NoError(t, err)
	assert.Greater(t, int64(c), int64(5_000000))

	_, err = BuyCost(q, b200, 0, 10_000000, c-1)
	assert.ErrorIs(t, err, domain.ErrCostExceedsMax)

	_, err = BuyCost(q, b200, 0, -1, 0)
	assert.ErrorIs(t, err, domain.ErrZeroShares)

	q[0] = 10_000000
	p, err := SellProceeds(q, b200, 0, 10_000000, 0)
	require.NoError(t, err)
	assert.Contains(t, []domain.Amount{c, c - 1}, p)

	_, err = SellProceeds(q, b200, 0, 10_000000, p+1)
	assert.ErrorIs(t, err, domain.ErrProceedsBelowMin)

	_, err = SellProceeds(q, b200, 0, 10_000001, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestPricesBps_SumsToDenominator(t *testing.T) {
	vectors := [][]domain.Shares{
		{0, 0},
		{0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0},
		{3_857800, 2_007800},
		{1, 2, 3, 4, 5, 6},
		{500_000000, 0, 123_456789},
		{1_000000000000, 0},
	}
	for _, q := range vectors {
		bps, err := PricesBps(q, b200)
		require.NoError(t, err)
		assert.Equal(t, domain.BpsDenominator, SumBps(bps), "q=%v", q)
		assert.Len(t, bps, len(q))
	}
}

func TestPricesBps_EvenSplitTiesGoToLowerIndex(t *testing.T) {
	bps, err := PricesBps([]domain.Shares{0, 0, 0}, b200)
	require.NoError(t, err)
	assert.Equal(t, []domain.Bps{3334, 3333, 3333}, bps)
}

func TestPrices_Idempotent(t *testing.T) {
	q := []domain.Shares{3_857800, 2_007800, 0}
	first, err := PricesBps(q, b200)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := PricesBps(q, b200)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []domain.Shares{3_857800, 2_007800, 0}, q)
}

func TestPrices_LargeQuantitiesStayFinite(t *testing.T) {
	q := []domain.Shares{domain.MaxShares - 1_000000, 0}
	b := domain.MinLiquidity

	p, err := Prices(q, b)
	require.NoError(t, err)
	for _, v := range p {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.InDelta(t, 1.0, p[0], 1e-12)

	c, err := Cost(q, b)
	require.NoError(t, err)
	assert.False(t, math.IsInf(c, 0) || math.IsNaN(c))

	d, err := CostDelta(q, b, 0, 1_000000)
	require.NoError(t, err)
	assert.InDelta(t, 1_000000, float64(d), 1)
}

func TestPrices_RequiresTwoOutcomes(t *testing.T) {
	_, err := Prices([]domain.Shares{0}, b200)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomeCount)
}

func TestMaxLoss(t *testing.T) {
	assert.Equal(t, domain.Amount(138_629437), MaxLoss(b200, 2))
	assert.Equal(t, domain.Amount(0), MaxLoss(b200, 1))
}

func TestSharesForCost(t *testing.T) {
	q := []domain.Shares{0, 0}
	budget := domain.Amount(1_000000)

	s, err := SharesForCost(q, b200, 0, budget)
	require.NoError(t, err)
	require.Greater(t, int64(s), int64(0))

	c, err := CostDelta(q, b200, 0, s)
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(c), int64(budget))

	over, err := CostDelta(q, b200, 0, s+1)
	require.NoError(t, err)
	assert.Greater(t, int64(over), int64(budget))

	zero, err := SharesForCost(q, b200, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Shares(0), zero)

	// An unbounded budget stops at the share limit.
	capped, err := SharesForCost([]domain.Shares{1_000000, 0}, b200, 0, domain.Amount(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, domain.MaxShares-1_000000, capped)
}
