package fees

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

type fixedRecipient domain.Address

func (f fixedRecipient) ProtocolRecipient() domain.Address { return domain.Address(f) }

var (
	protocolAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creatorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	otherAddr    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestSplit_IdentityHoldsExactly(t *testing.T) {
	rates := []domain.FeeRates{
		{ProtocolBps: 0, CreatorBps: 0},
		{ProtocolBps: 100, CreatorBps: 50},
		{ProtocolBps: 37, CreatorBps: 13},
		{ProtocolBps: 0, CreatorBps: 200},
		{ProtocolBps: 999, CreatorBps: 1},
	}
	amounts := []domain.Amount{1, 7, 99, 10_000, 1_234_567, 999_999_999, 138_629_437}
	for _, r := range rates {
		for _, g := range amounts {
			s := Split(g, r)
			assert.Equal(t, g, s.Protocol+s.Creator+s.Net, "split %d at %+v", g, r)
			assert.GreaterOrEqual(t, int64(s.Protocol), int64(0))
			assert.GreaterOrEqual(t, int64(s.Creator), int64(0))

			b := GrossUp(g, r)
			assert.Equal(t, b.Gross, b.Protocol+b.Creator+b.Net, "gross-up %d at %+v", g, r)
			assert.Equal(t, g, b.Net)
			assert.GreaterOrEqual(t, int64(b.Protocol), int64(0))
		}
	}
}

func TestSplit_DustGoesToProtocol(t *testing.T) {
	// 333 * 150 / 10000 = 4.995 total, 333 * 50 / 10000 = 1.665 creator.
	s := Split(333, domain.FeeRates{ProtocolBps: 100, CreatorBps: 50})
	assert.Equal(t, domain.Amount(4), s.Protocol+s.Creator)
	assert.Equal(t, domain.Amount(1), s.Creator)
	assert.Equal(t, domain.Amount(3), s.Protocol)

	b := GrossUp(333, domain.FeeRates{ProtocolBps: 100, CreatorBps: 50})
	assert.Equal(t, domain.Amount(338), b.Gross)
	assert.Equal(t, domain.Amount(1), b.Creator)
	assert.Equal(t, domain.Amount(4), b.Protocol)
}

func TestValidateRates(t *testing.T) {
	require.NoError(t, ValidateRates(domain.FeeRates{ProtocolBps: 100, CreatorBps: 100}, 1000))
	assert.ErrorIs(t, ValidateRates(domain.FeeRates{ProtocolBps: 900, CreatorBps: 200}, 1000), domain.ErrInvalidFeeRate)
	assert.ErrorIs(t, ValidateRates(domain.FeeRates{ProtocolBps: 10000}, 10000), domain.ErrInvalidFeeRate)
}

func TestDistributor_WithdrawIsGated(t *testing.T) {
	d := NewDistributor(fixedRecipient(protocolAddr))
	m := &domain.Market{ID: 7, Creator: creatorAddr}

	d.Accrue(7, domain.FeeSplit{Protocol: 30, Creator: 20})
	d.Forfeit(7, 1_000)

	_, _, _, err := d.Withdraw(otherAddr, m, domain.FeeKindProtocol)
	assert.ErrorIs(t, err, domain.ErrNotFeeRecipient)
	_, _, _, err = d.Withdraw(protocolAddr, m, domain.FeeKindCreator)
	assert.ErrorIs(t, err, domain.ErrNotFeeRecipient)

	amt, prev, next, err := d.Withdraw(protocolAddr, m, domain.FeeKindProtocol)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1_030), amt)
	assert.Equal(t, domain.Amount(1_030), prev.ProtocolAvailable())
	assert.Equal(t, domain.Amount(0), next.ProtocolAvailable())

	_, _, _, err = d.Withdraw(protocolAddr, m, domain.FeeKindProtocol)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	amt, _, _, err = d.Withdraw(creatorAddr, m, domain.FeeKindCreator)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(20), amt)
}

func TestDistributor_Restore(t *testing.T) {
	d := NewDistributor(fixedRecipient(protocolAddr))
	prev, next := d.Accrue(1, domain.FeeSplit{Protocol: 5, Creator: 5})
	assert.Equal(t, domain.Amount(5), next.Protocol)

	d.Restore(prev)
	assert.Equal(t, domain.FeeAccrual{MarketID: 1}, d.Accrual(1))
}
