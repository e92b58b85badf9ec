package access

import (
	"context"
	"math/big"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// StaticBalances is an in-memory BalanceLookup for development deployments
// without a chain endpoint.
type StaticBalances struct {
	mu       sync.RWMutex
	balances map[[2]domain.Address]*big.Int
}

// NewStaticBalances creates an empty lookup.
func NewStaticBalances() *StaticBalances {
	return &StaticBalances{balances: make(map[[2]domain.Address]*big.Int)}
}

// Set records holder's balance of token.
func (s *StaticBalances) Set(token, holder domain.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[[2]domain.Address{token, holder}] = new(big.Int).Set(amount)
}

// BalanceOf returns the recorded balance, or zero.
func (s *StaticBalances) BalanceOf(_ context.Context, token, holder domain.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[[2]domain.Address{token, holder}]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}
