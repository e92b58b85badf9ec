package domain

import (
	"fmt"
	"math"
)

// MaxShares bounds every share quantity: one trade, one position and one
// outcome's outstanding total. At 10^9 whole shares q/b stays exact in
// float64 and sums across outcomes stay far from int64 overflow.
const MaxShares Shares = 1_000_000_000 * Scale

// AddInt64 returns a+b and false when the sum overflows int64.
func AddInt64(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// AddShares returns a+b, failing with ErrShareLimit when the sum leaves
// [0, MaxShares].
func AddShares(a, b Shares) (Shares, error) {
	sum, ok := AddInt64(int64(a), int64(b))
	if !ok || sum < 0 || Shares(sum) > MaxShares {
		return 0, fmt.Errorf("%w: %s + %s", ErrShareLimit, a, b)
	}
	return Shares(sum), nil
}

// AddAmount returns a+b, failing with ErrInvalidAmount on int64 overflow.
func AddAmount(a, b Amount) (Amount, error) {
	sum, ok := AddInt64(int64(a), int64(b))
	if !ok {
		return 0, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, a, b)
	}
	return Amount(sum), nil
}
