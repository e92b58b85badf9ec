package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PatternSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()

	ch, err := b.Subscribe(ctx, "ch:market:*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ch:market:7", []byte(`{"market_id":7}`)))
	require.NoError(t, b.Publish(ctx, "ch:other", []byte(`x`)))

	select {
	case got := <-ch:
		assert.JSONEq(t, `{"market_id":7}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected message %q", got)
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestBus_Stream(t *testing.T) {
	ctx := context.Background()
	b := NewBus()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "events", []byte(p)))
	}

	all, err := b.StreamRead(ctx, "events", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := b.StreamRead(ctx, "events", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", string(rest[0].Payload))
}
