package fees

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// RecipientSource reports the current protocol fee recipient.
type RecipientSource interface {
	ProtocolRecipient() domain.Address
}

// Distributor holds the FeeAccrual book. It never moves funds itself: callers
// apply the returned accrual and the withdrawal amount in the same commit as
// the rest of their writes, and call Restore if that commit fails.
type Distributor struct {
	mu         sync.Mutex
	accruals   map[uint64]domain.FeeAccrual
	recipients RecipientSource
}

// NewDistributor creates an empty accrual book.
func NewDistributor(recipients RecipientSource) *Distributor {
	return &Distributor{
		accruals:   make(map[uint64]domain.FeeAccrual),
		recipients: recipients,
	}
}

// Load replaces the book with persisted accruals.
func (d *Distributor) Load(accruals []domain.FeeAccrual) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accruals = make(map[uint64]domain.FeeAccrual, len(accruals))
	for _, a := range accruals {
		d.accruals[a.MarketID] = a
	}
}

// Accrual returns the current accrual for a market.
func (d *Distributor) Accrual(marketID uint64) domain.FeeAccrual {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(marketID)
}

// Accrue books the fee portion of one trade. It returns the accrual before
// and after the change.
func (d *Distributor) Accrue(marketID uint64, s domain.FeeSplit) (prev, next domain.FeeAccrual) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev = d.get(marketID)
	next = prev
	next.Protocol += s.Protocol
	next.Creator += s.Creator
	d.accruals[marketID] = next
	return prev, next
}

// Forfeit books a forfeited assertion bond to the protocol side.
func (d *Distributor) Forfeit(marketID uint64, bond domain.Amount) (prev, next domain.FeeAccrual) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev = d.get(marketID)
	next = prev
	next.ForfeitedBonds += bond
	d.accruals[marketID] = next
	return prev, next
}

// Withdraw marks the caller's available side of a market's accrual as paid
// out and returns the amount to credit. The protocol side is payable to the
// protocol recipient only, the creator side to the market creator only.
func (d *Distributor) Withdraw(caller domain.Address, m *domain.Market, kind domain.FeeKind) (domain.Amount, domain.FeeAccrual, domain.FeeAccrual, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.get(m.ID)
	next := prev
	var amount domain.Amount
	switch kind {
	case domain.FeeKindProtocol:
		if caller != d.recipients.ProtocolRecipient() {
			return 0, prev, prev, fmt.Errorf("fees: withdraw protocol: %w", domain.ErrNotFeeRecipient)
		}
		amount = prev.ProtocolAvailable()
		next.ProtocolWithdrawn += amount
	case domain.FeeKindCreator:
		if caller != m.Creator {
			return 0, prev, prev, fmt.Errorf("fees: withdraw creator: %w", domain.ErrNotFeeRecipient)
		}
		amount = prev.CreatorAvailable()
		next.CreatorWithdrawn += amount
	default:
		return 0, prev, prev, fmt.Errorf("fees: %w: unknown fee kind %q", domain.ErrInvalidFeeRate, kind)
	}
	if amount <= 0 {
		return 0, prev, prev, fmt.Errorf("fees: withdraw %s: %w", kind, domain.ErrNothingToClaim)
	}
	d.accruals[m.ID] = next
	return amount, prev, next, nil
}

// Restore rolls a market's accrual back after a failed commit.
func (d *Distributor) Restore(a domain.FeeAccrual) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accruals[a.MarketID] = a
}

func (d *Distributor) get(marketID uint64) domain.FeeAccrual {
	a, ok := d.accruals[marketID]
	if !ok {
		a.MarketID = marketID
	}
	return a
}
