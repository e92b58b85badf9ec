package app

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/config"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

type fakeBalances struct {
	closed atomic.Int32
}

func (f *fakeBalances) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(5), nil
}

func (f *fakeBalances) Close() { f.closed.Add(1) }

func useFakeChain(t *testing.T) *fakeBalances {
	t.Helper()
	fake := &fakeBalances{}
	orig := dialBalances
	dialBalances = func(context.Context, string, time.Duration) (balanceSource, error) {
		return fake, nil
	}
	t.Cleanup(func() { dialBalances = orig })
	return fake
}

func gatedMemoryConfig() config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.S3.Enabled = false
	cfg.Chain.RPCURL = "http://127.0.0.1:8545"
	cfg.Access.Owner = "0x00000000000000000000000000000000000000f0"
	cfg.Access.PublicCreation = false
	cfg.Access.GatingToken = "0x1000000000000000000000000000000000000001"
	cfg.Access.MinBalance = "1"
	return cfg
}

func TestWire_CleanupClosesChainClient(t *testing.T) {
	fake := useFakeChain(t)
	cfg := gatedMemoryConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, deps.Gate)

	holder := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	assert.NoError(t, deps.Gate.Allow(context.Background(), holder))
	assert.Equal(t, int32(0), fake.closed.Load())

	cleanup()
	assert.Equal(t, int32(1), fake.closed.Load())
}

func TestWire_FailureAfterDialClosesChainClient(t *testing.T) {
	fake := useFakeChain(t)
	cfg := gatedMemoryConfig()
	cfg.Access.MinBalance = "not-a-number"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, _, err := Wire(context.Background(), &cfg, logger)
	require.Error(t, err)
	assert.Equal(t, int32(1), fake.closed.Load())
}

func TestWire_NoRPCSkipsChain(t *testing.T) {
	fake := useFakeChain(t)
	cfg := gatedMemoryConfig()
	cfg.Chain.RPCURL = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	holder := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	assert.ErrorIs(t, deps.Gate.Allow(context.Background(), holder), domain.ErrCreationNotPermitted)
	assert.Equal(t, int32(0), fake.closed.Load())
}
