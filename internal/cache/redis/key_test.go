package redis

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "prices:42", priceKey(42))
	assert.Equal(t, "ch:market:42", MarketChannel(42))
	assert.Equal(t, "lmsr:lock:resolution:settler", lockKey("resolution:settler"))

	ok, err := path.Match(AllMarketsPattern, MarketChannel(7))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, hasPattern(AllMarketsPattern))
	assert.False(t, hasPattern(MarketChannel(7)))
}

func TestScriptsEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, setIfNewerLua, "PEXPIRE")
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}
