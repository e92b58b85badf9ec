package domain

import "time"

// Position is one holder's share balance for one outcome of one market.
type Position struct {
	MarketID uint64  `json:"market_id"`
	Holder   Address `json:"holder"`
	Outcome  int     `json:"outcome"`
	Shares   Shares  `json:"shares"`
}

// AssertionState is the terminal state of an assertion in the history log.
type AssertionState string

const (
	AssertionPending  AssertionState = "pending"
	AssertionAccepted AssertionState = "accepted"
	AssertionDisputed AssertionState = "disputed"
)

// Assertion is a bonded claim about a market's outcome.
type Assertion struct {
	Asserter   Address        `json:"asserter"`
	Outcome    int            `json:"outcome"`
	Bond       Amount         `json:"bond"`
	AssertedAt time.Time      `json:"asserted_at"`
	State      AssertionState `json:"state"`
	Disputer   *Address       `json:"disputer,omitempty"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
}

// FeeAccrual holds running fee totals for one market. It is settlement
// bookkeeping, never an input to pricing.
type FeeAccrual struct {
	MarketID          uint64 `json:"market_id"`
	Protocol          Amount `json:"protocol"`
	Creator           Amount `json:"creator"`
	ForfeitedBonds    Amount `json:"forfeited_bonds"`
	ProtocolWithdrawn Amount `json:"protocol_withdrawn"`
	CreatorWithdrawn  Amount `json:"creator_withdrawn"`
}

// ProtocolAvailable is the protocol-side balance not yet withdrawn.
func (f FeeAccrual) ProtocolAvailable() Amount {
	return f.Protocol + f.ForfeitedBonds - f.ProtocolWithdrawn
}

// CreatorAvailable is the creator-side balance not yet withdrawn.
func (f FeeAccrual) CreatorAvailable() Amount {
	return f.Creator - f.CreatorWithdrawn
}

// FeeKind selects a side of a FeeAccrual.
type FeeKind string

const (
	FeeKindProtocol FeeKind = "protocol"
	FeeKindCreator  FeeKind = "creator"
)

// FeeSplit is the decomposition of one trade's gross amount.
type FeeSplit struct {
	Gross    Amount `json:"gross"`
	Protocol Amount `json:"protocol"`
	Creator  Amount `json:"creator"`
	Net      Amount `json:"net"`
}

// BalanceDelta is a signed change to a holder's settlement balance.
type BalanceDelta struct {
	Holder Address `json:"holder"`
	Delta  Amount  `json:"delta"`
}

// TradeSide is buy or sell.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeReceipt is returned to the caller of a successful trade.
type TradeReceipt struct {
	MarketID  uint64    `json:"market_id"`
	Trader    Address   `json:"trader"`
	Side      TradeSide `json:"side"`
	Outcome   int       `json:"outcome"`
	Shares    Shares    `json:"shares"`
	Fees      FeeSplit  `json:"fees"`
	PricesBps []Bps     `json:"prices_bps"`
	Seq       uint64    `json:"seq"`
}

// CostPaid is the gross amount a buyer paid, or zero for a sell.
func (r TradeReceipt) CostPaid() Amount {
	if r.Side == SideBuy {
		return r.Fees.Gross
	}
	return 0
}

// Proceeds is the net amount a seller received, or zero for a buy.
func (r TradeReceipt) Proceeds() Amount {
	if r.Side == SideSell {
		return r.Fees.Net
	}
	return 0
}
