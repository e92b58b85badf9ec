package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var end = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestDecodeV1_RescalesLiquidity(t *testing.T) {
	raw := `{"id":3,"question":"Q?","outcomes":["yes","no"],"end_time":"2025-03-01T00:00:00Z",
		"liquidity_wad":"200000000000000000000","outstanding":[3857800,2007800]}`

	m, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, domain.Liquidity(200_000000), m.Liquidity)
	assert.Equal(t, []domain.Shares{3_857800, 2_007800}, m.Outstanding)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, CurrentVersion, m.SchemaVersion)
	assert.Equal(t, domain.Amount(138_629437), m.Subsidy)
	assert.Greater(t, int64(m.Pool), int64(m.Subsidy))
}

func TestDecodeV1_RejectsWrongScale(t *testing.T) {
	// b stored at 6 decimals under a V1 header rescales to 0.0002 units.
	raw := `{"schema_version":1,"id":1,"question":"Q?","outcomes":["a","b"],"liquidity_wad":"200000000","outstanding":[0,0]}`
	_, err := Decode([]byte(raw))
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidityParameter)

	raw = `{"schema_version":1,"id":1,"question":"Q?","outcomes":["a","b"],"liquidity_wad":"200000000000000000001","outstanding":[0,0]}`
	_, err = Decode([]byte(raw))
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidityParameter)
}

func TestDecodeV2AndV3(t *testing.T) {
	v2 := MarketRecordV2{
		SchemaVersion:  2,
		ID:             9,
		Question:       "Who wins?",
		Outcomes:       []string{"a", "b", "c"},
		EndTime:        end,
		Liquidity:      50_000000,
		Outstanding:    []int64{0, 0, 0},
		Resolved:       true,
		WinningOutcome: 2,
		ProtocolFeeBps: 100,
		CreatorFeeBps:  50,
	}
	data, err := json.Marshal(v2)
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, 2, m.WinningOutcome)
	assert.Equal(t, domain.FeeRates{ProtocolBps: 100, CreatorBps: 50}, m.Fees)
	assert.Equal(t, m.Subsidy, m.Pool)

	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	v3 := MarketRecordV3{MarketRecordV2: v2, Creator: creator.Hex(), CreatedAt: end.Add(-time.Hour)}
	v3.SchemaVersion = 3
	data, err = json.Marshal(v3)
	require.NoError(t, err)

	m, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, creator, m.Creator)
	assert.Equal(t, end.Add(-time.Hour), m.CreatedAt)
}

func TestDecodeV3_BadCreator(t *testing.T) {
	raw := `{"schema_version":3,"id":1,"question":"Q?","outcomes":["a","b"],"liquidity":1000000,"outstanding":[0,0],"creator":"nope"}`
	_, err := Decode([]byte(raw))
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestEncodeDecodeCurrent(t *testing.T) {
	m := domain.Market{
		ID:             1,
		Question:       "Q?",
		Outcomes:       []string{"a", "b"},
		EndTime:        end,
		Liquidity:      200_000000,
		Subsidy:        138_629437,
		Pool:           138_629437,
		Outstanding:    []domain.Shares{0, 0},
		Status:         domain.MarketStatusOpen,
		WinningOutcome: -1,
	}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	m.SchemaVersion = CurrentVersion
	assert.Equal(t, m, got)
}

func TestDecode_UnknownVersion(t *testing.T) {
	_, err := Decode([]byte(`{"schema_version":99}`))
	assert.ErrorContains(t, err, "unknown version")
}
