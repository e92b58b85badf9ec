// Package fees splits trade amounts between the protocol and market creators
// and keeps the per-market accrual book.
package fees

import (
	"fmt"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// ValidateRates checks a fee schedule against the deployment cap.
func ValidateRates(r domain.FeeRates, maxTotal domain.Bps) error {
	if r.Total() > maxTotal {
		return fmt.Errorf("fees: %w: total %d bps exceeds cap %d", domain.ErrInvalidFeeRate, r.Total(), maxTotal)
	}
	if r.Total() >= domain.BpsDenominator {
		return fmt.Errorf("fees: %w: total %d bps", domain.ErrInvalidFeeRate, r.Total())
	}
	return nil
}

// Split decomposes a sell's gross refund. Fees are floored; the creator's share
// is floored on its own rate and the protocol takes the rest of the total, so
// Protocol + Creator + Net == Gross holds exactly.
func Split(gross domain.Amount, r domain.FeeRates) domain.FeeSplit {
	if gross <= 0 {
		return domain.FeeSplit{Gross: gross, Net: gross}
	}
	total := domain.Amount(domain.MulDivFloor(int64(gross), int64(r.Total()), domain.BpsDenominator))
	creator := domain.Amount(domain.MulDivFloor(int64(gross), int64(r.CreatorBps), domain.BpsDenominator))
	return domain.FeeSplit{
		Gross:    gross,
		Protocol: total - creator,
		Creator:  creator,
		Net:      gross - total,
	}
}

// GrossUp builds the split for a buy whose LMSR cost is net. The total fee is
// rounded up so the pool never receives less than the curve requires; the
// extra unit lands on the protocol side.
func GrossUp(net domain.Amount, r domain.FeeRates) domain.FeeSplit {
	if net <= 0 {
		return domain.FeeSplit{Gross: net, Net: net}
	}
	total := domain.Amount(domain.MulDivCeil(int64(net), int64(r.Total()), domain.BpsDenominator))
	creator := domain.Amount(domain.MulDivFloor(int64(net), int64(r.CreatorBps), domain.BpsDenominator))
	return domain.FeeSplit{
		Gross:    net + total,
		Protocol: total - creator,
		Creator:  creator,
		Net:      net,
	}
}
