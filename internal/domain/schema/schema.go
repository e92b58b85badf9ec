// Package schema reads every persisted version of a market record and
// upgrades it to the current domain.Market shape.
//
// Version history:
//
//	1  question, outcomes, end time, outstanding; liquidity at 18 decimals
//	2  liquidity rescaled to the 6-decimal settlement scale; fee rates
//	3  creator, for gated creation
//	4  subsidy, pool, lifecycle status and assertion state
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/lmsr"
)

// CurrentVersion is the version Encode writes.
const CurrentVersion = 4

// legacyDecimals is the scale V1 stored the liquidity parameter at.
const legacyDecimals = 18

// MarketRecordV1 is the original record. LiquidityWad holds b as an integer
// string at 18 decimals.
type MarketRecordV1 struct {
	SchemaVersion  int       `json:"schema_version"`
	ID             uint64    `json:"id"`
	Question       string    `json:"question"`
	Outcomes       []string  `json:"outcomes"`
	EndTime        time.Time `json:"end_time"`
	LiquidityWad   string    `json:"liquidity_wad"`
	Outstanding    []int64   `json:"outstanding"`
	Resolved       bool      `json:"resolved"`
	WinningOutcome int       `json:"winning_outcome"`
}

// MarketRecordV2 stores b in settlement base units and adds fee rates.
type MarketRecordV2 struct {
	SchemaVersion  int       `json:"schema_version"`
	ID             uint64    `json:"id"`
	Question       string    `json:"question"`
	Outcomes       []string  `json:"outcomes"`
	EndTime        time.Time `json:"end_time"`
	Liquidity      int64     `json:"liquidity"`
	Outstanding    []int64   `json:"outstanding"`
	Resolved       bool      `json:"resolved"`
	WinningOutcome int       `json:"winning_outcome"`
	ProtocolFeeBps uint32    `json:"protocol_fee_bps"`
	CreatorFeeBps  uint32    `json:"creator_fee_bps"`
}

// MarketRecordV3 adds the creator.
type MarketRecordV3 struct {
	MarketRecordV2
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// Decode reads a market record of any known version.
func Decode(data []byte) (domain.Market, error) {
	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return domain.Market{}, fmt.Errorf("schema: decode header: %w", err)
	}

	switch head.SchemaVersion {
	case 0, 1:
		var r MarketRecordV1
		if err := json.Unmarshal(data, &r); err != nil {
			return domain.Market{}, fmt.Errorf("schema: decode v1: %w", err)
		}
		v2, err := migrateV1toV2(r)
		if err != nil {
			return domain.Market{}, err
		}
		return migrateV3toV4(migrateV2toV3(v2))
	case 2:
		var r MarketRecordV2
		if err := json.Unmarshal(data, &r); err != nil {
			return domain.Market{}, fmt.Errorf("schema: decode v2: %w", err)
		}
		return migrateV3toV4(migrateV2toV3(r))
	case 3:
		var r MarketRecordV3
		if err := json.Unmarshal(data, &r); err != nil {
			return domain.Market{}, fmt.Errorf("schema: decode v3: %w", err)
		}
		return migrateV3toV4(r)
	case CurrentVersion:
		var m domain.Market
		if err := json.Unmarshal(data, &m); err != nil {
			return domain.Market{}, fmt.Errorf("schema: decode v%d: %w", CurrentVersion, err)
		}
		if err := m.Liquidity.Validate(); err != nil {
			return domain.Market{}, fmt.Errorf("schema: market %d: %w", m.ID, err)
		}
		return m, nil
	default:
		return domain.Market{}, fmt.Errorf("schema: unknown version %d", head.SchemaVersion)
	}
}

// Encode writes m at CurrentVersion.
func Encode(m domain.Market) ([]byte, error) {
	m.SchemaVersion = CurrentVersion
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("schema: encode market %d: %w", m.ID, err)
	}
	return data, nil
}

// migrateV1toV2 rescales b from 18 to 6 decimals. The result must be exact
// and inside the liquidity bounds; a record that was already stored at
// 6 decimals under a V1 header lands below the minimum and is refused.
func migrateV1toV2(r MarketRecordV1) (MarketRecordV2, error) {
	wad, err := decimal.NewFromString(r.LiquidityWad)
	if err != nil {
		return MarketRecordV2{}, fmt.Errorf("schema: v1 market %d: %w: %v", r.ID, domain.ErrInvalidLiquidityParameter, err)
	}
	scaled := wad.Shift(domain.Decimals - legacyDecimals)
	if !scaled.IsInteger() {
		return MarketRecordV2{}, fmt.Errorf("schema: v1 market %d: %w: %s does not rescale exactly",
			r.ID, domain.ErrInvalidLiquidityParameter, r.LiquidityWad)
	}
	if !scaled.BigInt().IsInt64() {
		return MarketRecordV2{}, fmt.Errorf("schema: v1 market %d: %w: %s out of range",
			r.ID, domain.ErrInvalidLiquidityParameter, r.LiquidityWad)
	}
	b := domain.Liquidity(scaled.IntPart())
	if err := b.Validate(); err != nil {
		return MarketRecordV2{}, fmt.Errorf("schema: v1 market %d: %w", r.ID, err)
	}
	return MarketRecordV2{
		SchemaVersion:  2,
		ID:             r.ID,
		Question:       r.Question,
		Outcomes:       r.Outcomes,
		EndTime:        r.EndTime,
		Liquidity:      int64(b),
		Outstanding:    r.Outstanding,
		Resolved:       r.Resolved,
		WinningOutcome: r.WinningOutcome,
	}, nil
}

// migrateV2toV3 leaves the creator empty; legacy markets predate gating.
func migrateV2toV3(r MarketRecordV2) MarketRecordV3 {
	r.SchemaVersion = 3
	return MarketRecordV3{MarketRecordV2: r}
}

// migrateV3toV4 derives the funding fields from the curve: the subsidy is
// the worst-case loss and the pool is the subsidy plus what traders paid in,
// C(q) − C(0).
func migrateV3toV4(r MarketRecordV3) (domain.Market, error) {
	b := domain.Liquidity(r.Liquidity)
	if err := b.Validate(); err != nil {
		return domain.Market{}, fmt.Errorf("schema: v3 market %d: %w", r.ID, err)
	}
	if len(r.Outcomes) < 2 || len(r.Outstanding) != len(r.Outcomes) {
		return domain.Market{}, fmt.Errorf("schema: v3 market %d: %w: %d outcomes, %d outstanding",
			r.ID, domain.ErrInvalidOutcomeCount, len(r.Outcomes), len(r.Outstanding))
	}
	q := make([]domain.Shares, len(r.Outstanding))
	for i, s := range r.Outstanding {
		q[i] = domain.Shares(s)
	}
	cq, err := lmsr.Cost(q, b)
	if err != nil {
		return domain.Market{}, fmt.Errorf("schema: v3 market %d: %w", r.ID, err)
	}
	c0, err := lmsr.Cost(make([]domain.Shares, len(q)), b)
	if err != nil {
		return domain.Market{}, fmt.Errorf("schema: v3 market %d: %w", r.ID, err)
	}
	subsidy := lmsr.MaxLoss(b, len(q))

	m := domain.Market{
		ID:             r.ID,
		Question:       r.Question,
		Outcomes:       r.Outcomes,
		CreatedAt:      r.CreatedAt,
		EndTime:        r.EndTime,
		Liquidity:      b,
		Subsidy:        subsidy,
		Pool:           subsidy + domain.Amount(math.Round(cq-c0)),
		Outstanding:    q,
		Status:         domain.MarketStatusOpen,
		WinningOutcome: -1,
		Fees: domain.FeeRates{
			ProtocolBps: domain.Bps(r.ProtocolFeeBps),
			CreatorBps:  domain.Bps(r.CreatorFeeBps),
		},
		SchemaVersion: CurrentVersion,
	}
	if r.Creator != "" {
		if !common.IsHexAddress(r.Creator) {
			return domain.Market{}, fmt.Errorf("schema: v3 market %d: %w: %q", r.ID, domain.ErrInvalidAddress, r.Creator)
		}
		m.Creator = common.HexToAddress(r.Creator)
	}
	if r.Resolved {
		if !m.ValidOutcome(r.WinningOutcome) {
			return domain.Market{}, fmt.Errorf("schema: v3 market %d: %w: %d", r.ID, domain.ErrInvalidOutcomeIndex, r.WinningOutcome)
		}
		m.Status = domain.MarketStatusResolved
		m.WinningOutcome = r.WinningOutcome
		end := r.EndTime
		m.ResolvedAt = &end
	}
	return m, nil
}
