package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
	failPub   error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub != nil {
		return b.failPub
	}
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusPublisher_FansOut(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &fakeBus{}
	prices := newFakePrices()
	metrics := NopMetrics()
	p := NewBusPublisher(bus, prices, metrics, logger)

	p.Publish(context.Background(), []domain.Event{
		{MarketID: 3, Seq: 4, Kind: domain.EventSharesPurchased, Shares: 10, Amount: 7},
		{MarketID: 3, Seq: 5, Kind: domain.EventSharesSold},
		{MarketID: 8, Seq: 1, Kind: domain.EventMarketCreated},
	})

	require.Len(t, bus.published["ch:market:3"], 2)
	require.Len(t, bus.published["ch:market:8"], 1)
	assert.Len(t, bus.stream, 3)

	var e domain.Event
	require.NoError(t, json.Unmarshal(bus.published["ch:market:3"][0], &e))
	assert.Equal(t, uint64(4), e.Seq)
	assert.Equal(t, domain.Amount(7), e.Amount)

	assert.ElementsMatch(t, []uint64{3, 8}, prices.dropped)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Events))
}

func TestBusPublisher_FailuresAreCounted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &fakeBus{failPub: errors.New("redis down")}
	metrics := NopMetrics()
	p := NewBusPublisher(bus, nil, metrics, logger)

	p.Publish(context.Background(), []domain.Event{{MarketID: 1, Seq: 1, Kind: domain.EventMarketCreated}})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishFailures))
	assert.Len(t, bus.stream, 1)
}
