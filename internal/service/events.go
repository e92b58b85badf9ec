package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/lmsrmarket/internal/cache/redis"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// BusPublisher fans committed ledger events out to the signal bus and drops
// stale price snapshots. Events are already persisted when it runs, so a bus
// failure is logged and counted, never returned.
type BusPublisher struct {
	bus     domain.SignalBus
	prices  domain.PriceCache
	metrics *Metrics
	logger  *slog.Logger
}

// NewBusPublisher creates a BusPublisher. bus and prices may be nil.
func NewBusPublisher(bus domain.SignalBus, prices domain.PriceCache, metrics *Metrics, logger *slog.Logger) *BusPublisher {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &BusPublisher{
		bus:     bus,
		prices:  prices,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "bus_publisher")),
	}
}

// Publish sends each event to its market channel and the durable stream,
// then invalidates the price snapshot of every market touched.
func (p *BusPublisher) Publish(ctx context.Context, events []domain.Event) {
	touched := make(map[uint64]struct{})
	for _, e := range events {
		touched[e.MarketID] = struct{}{}
		p.metrics.Events.Inc()
		if p.bus == nil {
			continue
		}

		payload, err := json.Marshal(e)
		if err != nil {
			p.fail(ctx, "marshal event", e.MarketID, err)
			continue
		}
		if err := p.bus.Publish(ctx, redis.MarketChannel(e.MarketID), payload); err != nil {
			p.fail(ctx, "publish event", e.MarketID, err)
		}
		if err := p.bus.StreamAppend(ctx, redis.EventStream, payload); err != nil {
			p.fail(ctx, "append event stream", e.MarketID, err)
		}
	}

	if p.prices == nil {
		return
	}
	for id := range touched {
		if err := p.prices.Invalidate(ctx, id); err != nil {
			p.fail(ctx, "invalidate prices", id, err)
		}
	}
}

func (p *BusPublisher) fail(ctx context.Context, op string, marketID uint64, err error) {
	p.metrics.PublishFailures.Inc()
	p.logger.WarnContext(ctx, "bus_publisher: "+op+" failed",
		slog.Uint64("market_id", marketID),
		slog.String("error", err.Error()),
	)
}
