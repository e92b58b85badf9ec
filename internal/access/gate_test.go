package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	recipient = common.HexToAddress("0x0000000000000000000000000000000000000002")
	token     = common.HexToAddress("0x00000000000000000000000000000000000070c1")
	alice     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

func testGate(t *testing.T, balances BalanceLookup, s CreationSettings) *Gate {
	t.Helper()
	g, err := NewGate(
		Config{Owner: owner, ProtocolRecipient: recipient},
		s,
		FeeSchedule{ProtocolBps: 100, MaxCreatorBps: 200},
		1000,
		balances,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	require.NoError(t, err)
	return g
}

func TestAllow_PublicCreation(t *testing.T) {
	g := testGate(t, nil, CreationSettings{PublicCreation: true})
	assert.NoError(t, g.Allow(context.Background(), alice))
}

func TestAllow_NoTokenDenies(t *testing.T) {
	g := testGate(t, NewStaticBalances(), CreationSettings{})
	assert.ErrorIs(t, g.Allow(context.Background(), alice), domain.ErrCreationNotPermitted)
}

func TestAllow_EvaluatedFreshEachCall(t *testing.T) {
	bals := NewStaticBalances()
	g := testGate(t, bals, CreationSettings{GatingToken: token, MinBalance: big.NewInt(1000)})
	ctx := context.Background()

	assert.ErrorIs(t, g.Allow(ctx, alice), domain.ErrCreationNotPermitted)

	bals.Set(token, alice, big.NewInt(1000))
	assert.NoError(t, g.Allow(ctx, alice))

	bals.Set(token, alice, big.NewInt(999))
	assert.ErrorIs(t, g.Allow(ctx, alice), domain.ErrCreationNotPermitted)
}

type failingLookup struct{}

func (failingLookup) BalanceOf(context.Context, domain.Address, domain.Address) (*big.Int, error) {
	return nil, errors.New("rpc down")
}

func TestAllow_LookupFailureDenies(t *testing.T) {
	g := testGate(t, failingLookup{}, CreationSettings{GatingToken: token, MinBalance: big.NewInt(1)})
	err := g.Allow(context.Background(), alice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestSetters_OwnerOnly(t *testing.T) {
	g := testGate(t, nil, CreationSettings{})
	ctx := context.Background()

	assert.ErrorIs(t, g.SetCreationSettings(ctx, alice, CreationSettings{PublicCreation: true}), domain.ErrNotOperator)
	assert.ErrorIs(t, g.SetFees(ctx, alice, FeeSchedule{}), domain.ErrNotOperator)

	require.NoError(t, g.SetCreationSettings(ctx, owner, CreationSettings{PublicCreation: true}))
	assert.True(t, g.CreationSettings().PublicCreation)

	require.NoError(t, g.SetFees(ctx, owner, FeeSchedule{ProtocolBps: 50, MaxCreatorBps: 50}))
	assert.Equal(t, FeeSchedule{ProtocolBps: 50, MaxCreatorBps: 50}, g.Fees())

	assert.ErrorIs(t, g.SetFees(ctx, owner, FeeSchedule{ProtocolBps: 900, MaxCreatorBps: 200}), domain.ErrInvalidFeeRate)
}

func TestRatesFor(t *testing.T) {
	g := testGate(t, nil, CreationSettings{})

	r, err := g.RatesFor(150)
	require.NoError(t, err)
	assert.Equal(t, domain.FeeRates{ProtocolBps: 100, CreatorBps: 150}, r)

	_, err = g.RatesFor(201)
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)
}
