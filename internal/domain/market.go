package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a holder, creator, asserter or operator.
type Address = common.Address

// MarketStatus is the stored lifecycle state of a market. "ended" is never
// stored; it is derived from the clock by Phase.
type MarketStatus string

const (
	MarketStatusOpen             MarketStatus = "open"
	MarketStatusAssertionPending MarketStatus = "assertion_pending"
	MarketStatusDisputed         MarketStatus = "disputed"
	MarketStatusResolved         MarketStatus = "resolved"
)

// MarketPhase is the derived state of a market at a point in time.
type MarketPhase string

const (
	PhaseOpen             MarketPhase = "open"
	PhaseEnded            MarketPhase = "ended"
	PhaseAssertionPending MarketPhase = "assertion_pending"
	PhaseDisputed         MarketPhase = "disputed"
	PhaseResolved         MarketPhase = "resolved"
)

// FeeRates are the fee rates snapshotted into a market at creation.
type FeeRates struct {
	ProtocolBps Bps `json:"protocol_bps"`
	CreatorBps  Bps `json:"creator_bps"`
}

// Total returns the combined fee rate.
func (f FeeRates) Total() Bps { return f.ProtocolBps + f.CreatorBps }

// Market is a single LMSR market and its resolution state. Rounds counts the
// assertions ever submitted; EventSeq is the last event sequence number.
type Market struct {
	ID             uint64       `json:"id"`
	Question       string       `json:"question"`
	Outcomes       []string     `json:"outcomes"`
	Creator        Address      `json:"creator"`
	CreatedAt      time.Time    `json:"created_at"`
	EndTime        time.Time    `json:"end_time"`
	Liquidity      Liquidity    `json:"liquidity"`
	Subsidy        Amount       `json:"subsidy"`
	Pool           Amount       `json:"pool"`
	Outstanding    []Shares     `json:"outstanding"`
	Status         MarketStatus `json:"status"`
	WinningOutcome int          `json:"winning_outcome"`
	Assertion      *Assertion   `json:"assertion,omitempty"`
	Rounds         int          `json:"rounds"`
	Fees           FeeRates     `json:"fees"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	EventSeq       uint64       `json:"event_seq"`
	SchemaVersion  int          `json:"schema_version"`
}

// OutcomeCount returns the fixed number of outcomes.
func (m *Market) OutcomeCount() int { return len(m.Outcomes) }

// ValidOutcome reports whether i indexes one of the market's outcomes.
func (m *Market) ValidOutcome(i int) bool { return i >= 0 && i < len(m.Outcomes) }

// HasEnded reports whether trading is closed at now. A market whose end time
// equals now has ended.
func (m *Market) HasEnded(now time.Time) bool { return !now.Before(m.EndTime) }

// Phase derives the lifecycle phase at now.
func (m *Market) Phase(now time.Time) MarketPhase {
	switch m.Status {
	case MarketStatusResolved:
		return PhaseResolved
	case MarketStatusAssertionPending:
		return PhaseAssertionPending
	case MarketStatusDisputed:
		return PhaseDisputed
	}
	if m.HasEnded(now) {
		return PhaseEnded
	}
	return PhaseOpen
}

// Clone returns a deep copy safe to hand to readers.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.Outstanding = append([]Shares(nil), m.Outstanding...)
	if m.Assertion != nil {
		a := *m.Assertion
		out.Assertion = &a
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// MarketInfo is the getMarketBasicInfo view of a market.
type MarketInfo struct {
	ID             uint64      `json:"id"`
	Question       string      `json:"question"`
	Outcomes       []string    `json:"outcomes"`
	OutcomeCount   int         `json:"outcome_count"`
	EndTime        time.Time   `json:"end_time"`
	Liquidity      Liquidity   `json:"liquidity"`
	Resolved       bool        `json:"resolved"`
	WinningOutcome int         `json:"winning_outcome"`
	Phase          MarketPhase `json:"phase"`
}

// Info projects the market into its basic-info view at now. WinningOutcome
// is -1 until the market is resolved.
func (m *Market) Info(now time.Time) MarketInfo {
	winning := -1
	if m.Status == MarketStatusResolved {
		winning = m.WinningOutcome
	}
	return MarketInfo{
		ID:             m.ID,
		Question:       m.Question,
		Outcomes:       append([]string(nil), m.Outcomes...),
		OutcomeCount:   len(m.Outcomes),
		EndTime:        m.EndTime,
		Liquidity:      m.Liquidity,
		Resolved:       m.Status == MarketStatusResolved,
		WinningOutcome: winning,
		Phase:          m.Phase(now),
	}
}
