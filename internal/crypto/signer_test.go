package crypto

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (first hardhat account).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	now := time.Unix(1_750_000_000, 0)
	v := NewVerifier(time.Minute, func() time.Time { return now })

	sig, err := s.SignRequest("post", "/api/markets/1/buy", now.Unix())
	require.NoError(t, err)
	require.NoError(t, v.Verify(s.Address(), "POST", "/api/markets/1/buy", now.Unix(), sig))

	err = v.Verify(s.Address(), "POST", "/api/markets/1/sell", now.Unix(), sig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	other := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	err = v.Verify(other, "POST", "/api/markets/1/buy", now.Unix(), sig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_Rejects(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)
	now := time.Unix(1_750_000_000, 0)
	v := NewVerifier(time.Minute, func() time.Time { return now })

	old := now.Add(-2 * time.Minute).Unix()
	sig, err := s.SignRequest("GET", "/api/balances", old)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(s.Address(), "GET", "/api/balances", old, sig), ErrStaleTimestamp)

	assert.ErrorIs(t, v.Verify(s.Address(), "GET", "/x", now.Unix(), "0xzz"), ErrMalformedSignature)
	assert.ErrorIs(t, v.Verify(s.Address(), "GET", "/x", now.Unix(), "0x1234"), ErrMalformedSignature)
}

func TestRequestMessage(t *testing.T) {
	assert.Equal(t, "PUT /api/admin/fees 42", RequestMessage("put", "/api/admin/fees", 42))
}

func TestNewSigner_InvalidKey(t *testing.T) {
	_, err := NewSigner("0x1234")
	assert.Error(t, err)
}
