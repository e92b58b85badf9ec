package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// vault holds settlement balances. Debits are check-and-debit under one lock
// so concurrent trades can never overdraw a holder.
type vault struct {
	mu       sync.Mutex
	balances map[domain.Address]domain.Amount
}

func newVault() *vault {
	return &vault{balances: make(map[domain.Address]domain.Amount)}
}

func (v *vault) load(b map[domain.Address]domain.Amount) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = make(map[domain.Address]domain.Amount, len(b))
	for h, a := range b {
		v.balances[h] = a
	}
}

func (v *vault) balance(h domain.Address) domain.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[h]
}

// apply applies signed deltas, debits checked. On failure nothing changes.
func (v *vault) apply(deltas []domain.BalanceDelta) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := make(map[domain.Address]domain.Amount, len(deltas))
	for _, d := range deltas {
		cur, ok := next[d.Holder]
		if !ok {
			cur = v.balances[d.Holder]
		}
		cur += d.Delta
		if cur < 0 {
			return fmt.Errorf("%w: %s short by %s", domain.ErrInsufficientBalance, d.Holder.Hex(), -cur)
		}
		next[d.Holder] = cur
	}
	for h, a := range next {
		v.balances[h] = a
	}
	return nil
}

// revert undoes apply.
func (v *vault) revert(deltas []domain.BalanceDelta) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range deltas {
		v.balances[d.Holder] -= d.Delta
	}
}

// Credit adds funds to holder's balance. Deposits arrive through external
// custody, so only the owner may record them.
func (l *Ledger) Credit(ctx context.Context, caller, holder domain.Address, amount domain.Amount) error {
	if err := l.access.RequireOwner(caller); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: credit: %w: %s", domain.ErrInvalidAmount, amount)
	}
	if holder == (domain.Address{}) {
		return fmt.Errorf("ledger: credit: %w", domain.ErrInvalidAddress)
	}
	deltas := []domain.BalanceDelta{{Holder: holder, Delta: amount}}
	if err := l.commitBalances(ctx, deltas); err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	l.logger.InfoContext(ctx, "ledger: credited",
		slog.String("holder", holder.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Withdraw removes funds from the caller's own balance for payout by
// external custody.
func (l *Ledger) Withdraw(ctx context.Context, caller domain.Address, amount domain.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: withdraw: %w: %s", domain.ErrInvalidAmount, amount)
	}
	deltas := []domain.BalanceDelta{{Holder: caller, Delta: -amount}}
	if err := l.commitBalances(ctx, deltas); err != nil {
		return fmt.Errorf("ledger: withdraw: %w", err)
	}
	l.logger.InfoContext(ctx, "ledger: withdrawn",
		slog.String("holder", caller.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

func (l *Ledger) commitBalances(ctx context.Context, deltas []domain.BalanceDelta) error {
	if err := l.vault.apply(deltas); err != nil {
		return err
	}
	if err := l.store.Apply(ctx, domain.Commit{Balances: deltas}); err != nil {
		l.vault.revert(deltas)
		return err
	}
	return nil
}
