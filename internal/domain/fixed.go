package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the one authoritative fixed-point scale of the service. The
// settlement currency (USDC), share quantities and the liquidity parameter all
// use it, so a share that pays one currency unit is worth Scale base units.
const (
	Decimals = 6
	Scale    = 1_000_000
)

// Liquidity parameter bounds in base units. A value supplied at 18 decimals
// lands above MaxLiquidity; a value rescaled twice lands below MinLiquidity.
const (
	MinLiquidity Liquidity = 1 * Scale
	MaxLiquidity Liquidity = 1_000_000_000 * Scale
)

// Amount is a settlement-currency quantity in base units (10^-6 USDC).
type Amount int64

// Shares is an outcome-share quantity in base units (10^-6 shares).
type Shares int64

// Liquidity is the LMSR b parameter expressed in settlement-currency base
// units. It is a distinct type so it cannot be mixed with share counts.
type Liquidity int64

// Bps is a rate in basis points (1/10000).
type Bps uint32

// BpsDenominator is the basis-point denominator; prices sum to it.
const BpsDenominator = 10_000

func (a Amount) String() string    { return formatFixed(int64(a)) }
func (s Shares) String() string    { return formatFixed(int64(s)) }
func (l Liquidity) String() string { return formatFixed(int64(l)) }

// Decimal returns the amount as a decimal in whole currency units.
func (a Amount) Decimal() decimal.Decimal { return decimal.New(int64(a), -Decimals) }

// Decimal returns the share count in whole shares.
func (s Shares) Decimal() decimal.Decimal { return decimal.New(int64(s), -Decimals) }

// Units returns b in whole currency units as a float, for the pricing math.
func (l Liquidity) Units() float64 { return float64(l) / Scale }

// Validate checks that b is positive and within the expected scale bounds.
func (l Liquidity) Validate() error {
	if l <= 0 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidLiquidityParameter, int64(l))
	}
	if l < MinLiquidity || l > MaxLiquidity {
		return fmt.Errorf("%w: %d base units is outside [%d, %d]; expected %d-decimal units",
			ErrInvalidLiquidityParameter, int64(l), int64(MinLiquidity), int64(MaxLiquidity), Decimals)
	}
	return nil
}

// ParseAmount parses a decimal string in whole currency units ("12.5").
func ParseAmount(s string) (Amount, error) {
	v, err := parseFixed(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount(v), nil
}

// ParseShares parses a decimal string in whole shares ("3.8578"). Values
// above MaxShares are rejected.
func ParseShares(s string) (Shares, error) {
	v, err := parseFixed(s)
	if err != nil {
		return 0, fmt.Errorf("parse shares %q: %w", s, err)
	}
	if Shares(v) > MaxShares {
		return 0, fmt.Errorf("parse shares %q: %w: max %s", s, ErrShareLimit, MaxShares)
	}
	return Shares(v), nil
}

// ParseLiquidity parses b given in whole currency units ("200") and
// validates it against the scale bounds.
func ParseLiquidity(s string) (Liquidity, error) {
	v, err := parseFixed(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidLiquidityParameter, s, err)
	}
	l := Liquidity(v)
	if err := l.Validate(); err != nil {
		return 0, err
	}
	return l, nil
}

// ParseRawLiquidity parses b given as an integer in base units
// ("200000000") and validates its magnitude.
func ParseRawLiquidity(s string) (Liquidity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidLiquidityParameter, s, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: raw value %q must be an integer", ErrInvalidLiquidityParameter, s)
	}
	if d.GreaterThan(decimal.NewFromInt(int64(MaxLiquidity))) || d.LessThan(decimal.NewFromInt(int64(MinLiquidity))) {
		return 0, fmt.Errorf("%w: raw value %s is outside [%d, %d]; expected %d-decimal units",
			ErrInvalidLiquidityParameter, d.String(), int64(MinLiquidity), int64(MaxLiquidity), Decimals)
	}
	return Liquidity(d.IntPart()), nil
}

// parseFixed converts decimal text to base units, rejecting values with more
// than Decimals fractional digits instead of rounding them away.
func parseFixed(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("more than %d decimal places", Decimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("out of range")
	}
	return scaled.IntPart(), nil
}

func formatFixed(v int64) string {
	return decimal.New(v, -Decimals).StringFixed(Decimals)
}

// MulDivFloor returns floor(a*b/d) for non-negative inputs without
// overflowing on the intermediate product.
func MulDivFloor(a, b, d int64) int64 {
	if d == 0 {
		panic("domain: MulDivFloor by zero")
	}
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return p.Quo(p, big.NewInt(d)).Int64()
}

// MulDivCeil returns ceil(a*b/d) for non-negative inputs.
func MulDivCeil(a, b, d int64) int64 {
	if d == 0 {
		panic("domain: MulDivCeil by zero")
	}
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q, r := new(big.Int).QuoRem(p, big.NewInt(d), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
