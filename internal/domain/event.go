package domain

import "time"

// EventKind names a market event.
type EventKind string

const (
	EventMarketCreated     EventKind = "MarketCreated"
	EventSharesPurchased   EventKind = "SharesPurchased"
	EventSharesSold        EventKind = "SharesSold"
	EventOutcomeAsserted   EventKind = "OutcomeAsserted"
	EventAssertionDisputed EventKind = "AssertionDisputed"
	EventMarketResolved    EventKind = "MarketResolved"
	EventPayoutClaimed     EventKind = "PayoutClaimed"
	EventFeesWithdrawn     EventKind = "FeesWithdrawn"
	EventMarketCorrected   EventKind = "MarketCorrected"
)

// Event is an append-only market event. Seq is assigned per market and is
// strictly increasing. For SharesPurchased, Actor is the buyer, Outcome the
// outcome index, Shares the share amount and Amount the cost paid; external
// indexers reconstruct volume from these rows.
type Event struct {
	MarketID  uint64         `json:"market_id"`
	Seq       uint64         `json:"seq"`
	Kind      EventKind      `json:"kind"`
	Actor     Address        `json:"actor"`
	Outcome   int            `json:"outcome"`
	Shares    Shares         `json:"shares"`
	Amount    Amount         `json:"amount"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Volume sums the cost paid over SharesPurchased events for one market.
func Volume(events []Event) Amount {
	var total Amount
	for _, e := range events {
		if e.Kind == EventSharesPurchased {
			total += e.Amount
		}
	}
	return total
}
