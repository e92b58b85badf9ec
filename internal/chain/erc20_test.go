package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	balances map[common.Address]*big.Int
	lastTo   common.Address
	err      error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastTo = *msg.To
	selector := crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	if len(msg.Data) != 36 || string(msg.Data[:4]) != string(selector) {
		return nil, errors.New("unexpected calldata")
	}
	holder := common.BytesToAddress(msg.Data[4:])
	bal, ok := f.balances[holder]
	if !ok {
		bal = new(big.Int)
	}
	return common.LeftPadBytes(bal.Bytes(), 32), nil
}

func TestBalanceOf(t *testing.T) {
	token := common.HexToAddress("0x1000000000000000000000000000000000000001")
	holder := common.HexToAddress("0x2000000000000000000000000000000000000002")
	want, _ := new(big.Int).SetString("250000000000000000000", 10)

	fc := &fakeCaller{balances: map[common.Address]*big.Int{holder: want}}
	b, err := NewERC20Balances(fc, 0)
	require.NoError(t, err)

	got, err := b.BalanceOf(context.Background(), token, holder)
	require.NoError(t, err)
	assert.Equal(t, 0, want.Cmp(got))
	assert.Equal(t, token, fc.lastTo)

	zero, err := b.BalanceOf(context.Background(), token, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, 0, zero.Sign())
}

func TestBalanceOf_CallError(t *testing.T) {
	b, err := NewERC20Balances(&fakeCaller{err: errors.New("boom")}, 0)
	require.NoError(t, err)

	_, err = b.BalanceOf(context.Background(), common.Address{}, common.Address{})
	assert.ErrorContains(t, err, "boom")
}
