// Package chain reads token balances from an EVM chain for the creation gate.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20Balances answers balanceOf calls with eth_call against the latest
// block.
type ERC20Balances struct {
	caller  ethereum.ContractCaller
	parsed  abi.ABI
	timeout time.Duration
	closer  func()
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, timeout time.Duration) (*ERC20Balances, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("chain: rpc_url is required")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	b, err := NewERC20Balances(client, timeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	b.closer = client.Close
	return b, nil
}

// NewERC20Balances wraps an existing contract caller.
func NewERC20Balances(caller ethereum.ContractCaller, timeout time.Duration) (*ERC20Balances, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ERC20Balances{caller: caller, parsed: parsed, timeout: timeout}, nil
}

// BalanceOf returns holder's balance of token in the token's base units.
func (b *ERC20Balances) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := b.parsed.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call balanceOf: %w", err)
	}
	out, err := b.parsed.Unpack("balanceOf", res)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: balanceOf returned %d values", len(out))
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf returned %T", out[0])
	}
	return bal, nil
}

// Close releases the RPC connection when the lookup owns it.
func (b *ERC20Balances) Close() {
	if b.closer != nil {
		b.closer()
	}
}
