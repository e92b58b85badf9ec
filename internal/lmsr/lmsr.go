// Package lmsr implements the Logarithmic Market Scoring Rule cost function
// over a fixed set of outcomes.
//
// Quantities are fixed-point integers at domain.Scale. One share pays at most
// one currency unit, so q_i/b is dimensionless when both are in base units.
// Every evaluation uses the log-sum-exp form
//
//	C(q) = b·(m + ln Σ exp(q_i/b − m)),  m = max_i q_i/b
//
// because exp(q_i/b) overflows float64 for realistic share volumes.
package lmsr

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Cost evaluates C(q) in settlement base units.
func Cost(q []domain.Shares, b domain.Liquidity) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if len(q) < 2 {
		return 0, fmt.Errorf("lmsr: %w: %d", domain.ErrInvalidOutcomeCount, len(q))
	}
	return cost(q, float64(b)), nil
}

func cost(q []domain.Shares, b float64) float64 {
	m := math.Inf(-1)
	for _, qi := range q {
		if x := float64(qi) / b; x > m {
			m = x
		}
	}
	var sum float64
	for _, qi := range q {
		sum += math.Exp(float64(qi)/b - m)
	}
	return b * (m + math.Log(sum))
}

// CostDelta returns C(q + Δ·e_k) − C(q), rounded up to a whole base unit so
// the market maker never loses to rounding: a buyer pays the ceiling and a
// seller (negative result) is refunded the floor. Consequently
// CostDelta(q, k, Δ) + CostDelta(q+Δe_k, k, −Δ) is 0 or 1.
//
// The difference is evaluated as b·ln(1 + p_k·(e^{Δ/b} − 1)) instead of
// subtracting two large costs, so a one-unit trade still prices above zero.
func CostDelta(q []domain.Shares, b domain.Liquidity, k int, delta domain.Shares) (domain.Amount, error) {
	if delta == 0 {
		return 0, domain.ErrZeroShares
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if k < 0 || k >= len(q) {
		return 0, fmt.Errorf("lmsr: %w: %d of %d", domain.ErrInvalidOutcomeIndex, k, len(q))
	}
	if _, err := domain.AddShares(q[k], delta); err != nil {
		return 0, fmt.Errorf("lmsr: outcome %d: %w", k, err)
	}
	bf := float64(b)
	x := bf * growth(q, bf, k, float64(delta)/bf)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("lmsr: %w: cost of %s shares of outcome %d is not finite", domain.ErrShareLimit, delta, k)
	}
	return domain.Amount(math.Ceil(x)), nil
}

// growth returns ln(1 + p_k·(e^y − 1)) with p_k the price of outcome k.
func growth(q []domain.Shares, b float64, k int, y float64) float64 {
	m := math.Inf(-1)
	for _, qi := range q {
		if v := float64(qi) / b; v > m {
			m = v
		}
	}
	var wk, rest float64
	for i, qi := range q {
		w := math.Exp(float64(qi)/b - m)
		if i == k {
			wk = w
		} else {
			rest += w
		}
	}
	p, r := wk/(wk+rest), rest/(wk+rest)
	switch {
	case y > 1:
		// e^y would overflow for large buys.
		return y + math.Log(p+r*math.Exp(-y))
	case y < -1:
		return math.Log(r + p*math.Exp(y))
	default:
		return math.Log1p(p * math.Expm1(y))
	}
}

// BuyCost is CostDelta for a purchase with slippage protection. maxCost of
// zero means unbounded.
func BuyCost(q []domain.Shares, b domain.Liquidity, k int, shares domain.Shares, maxCost domain.Amount) (domain.Amount, error) {
	if shares < 0 {
		return 0, fmt.Errorf("lmsr: buy %w: negative amount %d", domain.ErrZeroShares, shares)
	}
	c, err := CostDelta(q, b, k, shares)
	if err != nil {
		return 0, err
	}
	if c <= 0 {
		return 0, fmt.Errorf("lmsr: buy %w: %s shares of outcome %d price at %s", domain.ErrZeroShares, shares, k, c)
	}
	if maxCost > 0 && c > maxCost {
		return 0, fmt.Errorf("lmsr: %w: cost %s > max %s", domain.ErrCostExceedsMax, c, maxCost)
	}
	return c, nil
}

// SellProceeds returns the refund for selling shares of outcome k. The caller
// must already have checked that the seller holds the shares. minProceeds of
// zero means unbounded.
func SellProceeds(q []domain.Shares, b domain.Liquidity, k int, shares domain.Shares, minProceeds domain.Amount) (domain.Amount, error) {
	if shares < 0 {
		return 0, fmt.Errorf("lmsr: sell %w: negative amount %d", domain.ErrZeroShares, shares)
	}
	if k >= 0 && k < len(q) && q[k] < shares {
		return 0, fmt.Errorf("lmsr: %w: outstanding %s < %s", domain.ErrInsufficientBalance, q[k], shares)
	}
	c, err := CostDelta(q, b, k, -shares)
	if err != nil {
		return 0, err
	}
	proceeds := -c
	if proceeds < minProceeds {
		return 0, fmt.Errorf("lmsr: %w: proceeds %s < min %s", domain.ErrProceedsBelowMin, proceeds, minProceeds)
	}
	return proceeds, nil
}

// Prices returns the marginal price of every outcome,
// exp(q_i/b) / Σ_j exp(q_j/b). Each is in (0, 1) and they sum to 1.
func Prices(q []domain.Shares, b domain.Liquidity) ([]float64, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(q) < 2 {
		return nil, fmt.Errorf("lmsr: %w: %d", domain.ErrInvalidOutcomeCount, len(q))
	}
	bf := float64(b)
	m := math.Inf(-1)
	for _, qi := range q {
		if x := float64(qi) / bf; x > m {
			m = x
		}
	}
	out := make([]float64, len(q))
	var sum float64
	for i, qi := range q {
		out[i] = math.Exp(float64(qi)/bf - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// PricesBps returns the prices as integer basis points summing to exactly
// 10000. Flooring leaves a remainder that is handed out one point at a time
// by largest fractional part, ties going to the lower index.
func PricesBps(q []domain.Shares, b domain.Liquidity) ([]domain.Bps, error) {
	p, err := Prices(q, b)
	if err != nil {
		return nil, err
	}
	return apportion(p), nil
}

func apportion(p []float64) []domain.Bps {
	out := make([]domain.Bps, len(p))
	frac := make([]float64, len(p))
	var assigned int
	for i, pi := range p {
		raw := pi * domain.BpsDenominator
		fl := math.Floor(raw)
		out[i] = domain.Bps(fl)
		frac[i] = raw - fl
		assigned += int(fl)
	}
	order := make([]int, len(p))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool { return frac[order[a]] > frac[order[c]] })
	rem := domain.BpsDenominator - assigned
	for i := 0; i < rem; i++ {
		out[order[i%len(order)]]++
	}
	for i := 0; rem < 0 && i < len(order); i++ {
		j := order[len(order)-1-i]
		if out[j] > 0 {
			out[j]--
			rem++
		}
	}
	return out
}

// SumBps adds a basis-point vector.
func SumBps(p []domain.Bps) int {
	var s int
	for _, v := range p {
		s += int(v)
	}
	return s
}

// MaxLoss is the creator's worst-case loss b·ln(n), rounded up. It is the
// subsidy a market needs so every winning share can be paid out.
func MaxLoss(b domain.Liquidity, outcomes int) domain.Amount {
	return domain.Amount(math.Ceil(float64(b) * math.Log(float64(outcomes))))
}

// SharesForCost finds by bisection the largest share amount of outcome k
// whose buy cost does not exceed budget. It returns 0 when not even one base
// unit is affordable.
func SharesForCost(q []domain.Shares, b domain.Liquidity, k int, budget domain.Amount) (domain.Shares, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if k < 0 || k >= len(q) {
		return 0, fmt.Errorf("lmsr: %w: %d of %d", domain.ErrInvalidOutcomeIndex, k, len(q))
	}
	if budget <= 0 {
		return 0, nil
	}
	room := domain.MaxShares - q[k]
	if room <= 0 {
		return 0, nil
	}
	lo, hi := domain.Shares(0), domain.Shares(1)
	for {
		hi = min(hi, room)
		c, err := CostDelta(q, b, k, hi)
		if err != nil {
			return 0, err
		}
		if c > budget {
			break
		}
		lo = hi
		if hi == room {
			return lo, nil
		}
		hi *= 2
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		c, err := CostDelta(q, b, k, mid)
		if err != nil {
			return 0, err
		}
		if c <= budget {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}
