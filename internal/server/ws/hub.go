// Package ws streams market events to WebSocket clients. The hub subscribes
// once to the event bus and routes each event to the clients watching its
// market.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const (
	// broadcastBuffer bounds events decoded but not yet routed.
	broadcastBuffer = 256

	// replayLimit caps the stream entries sent to one connecting client.
	replayLimit = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Frame is every message written to clients.
type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload"`
}

// Config configures the hub.
type Config struct {
	// Channel is the bus channel or pattern carrying market events.
	Channel string
	// Stream is the durable stream replayed to clients that pass ?since=.
	// Replay is off when empty.
	Stream    string
	StartedAt time.Time
}

// Hub fans market events from the signal bus out to connected clients.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger
	events chan domain.Event
	joins  chan *client
	leaves chan *client

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub bridging bus to connected WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.Channel == "" {
		cfg.Channel = "ch:market:*"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		events:  make(chan domain.Event, broadcastBuffer),
		joins:   make(chan *client),
		leaves:  make(chan *client),
		clients: make(map[*client]struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	go h.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("clients", n))

		case c := <-h.leaves:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("clients", n))

		case ev := <-h.events:
			h.route(ev)
		}
	}
}

// route queues ev for every client watching its market. Slow clients lose
// the frame rather than stall the hub.
func (h *Hub) route(ev domain.Event) {
	data, err := json.Marshal(Frame{Type: "event", Payload: ev})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.watches(ev.MarketID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping frame for slow client",
				slog.Uint64("market_id", ev.MarketID),
				slog.Uint64("seq", ev.Seq),
			)
		}
	}
}

// pump decodes bus messages onto the routing loop.
func (h *Hub) pump(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", h.cfg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", h.cfg.Channel))
				return
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. Repeated "market"
// parameters subscribe up front. "since" replays retained stream entries
// after that stream ID ("0" for all) before live events start; frames
// published during the handshake can repeat, so clients dedupe on the
// per-market seq.
// GET /ws?market=1&market=2&since=0
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	markets, err := parseMarkets(q["market"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	since := q.Get("since")
	if since != "" && h.cfg.Stream == "" {
		http.Error(w, "replay is not enabled", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, markets)
	hello := Frame{Type: "hello", Payload: map[string]any{
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
		"server_time":    time.Now().UTC(),
	}}
	if err := c.write(hello); err != nil {
		_ = conn.Close()
		return
	}
	if since != "" {
		if err := h.replay(r.Context(), c, since); err != nil {
			h.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
			_ = c.write(Frame{Type: "error", Payload: map[string]string{"error": "replay failed"}})
		}
	}

	h.joins <- c
	go c.writeLoop()
	go c.readLoop()
}

// replay writes stream entries after since straight to the connection. It
// runs before the client joins, so the send buffer only carries live frames.
func (h *Hub) replay(ctx context.Context, c *client, since string) error {
	msgs, err := h.bus.StreamRead(ctx, h.cfg.Stream, since, replayLimit)
	if err != nil {
		return fmt.Errorf("ws: read %s: %w", h.cfg.Stream, err)
	}
	last := since
	for _, m := range msgs {
		last = m.ID
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil || !c.watches(ev.MarketID) {
			continue
		}
		if err := c.write(Frame{Type: "replay", ID: m.ID, Payload: ev}); err != nil {
			return err
		}
	}
	return c.write(Frame{Type: "replayed", Payload: map[string]any{
		"last_id":   last,
		"truncated": len(msgs) == replayLimit,
	}})
}

func parseMarkets(values []string) ([]uint64, error) {
	out := make([]uint64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid market %q", v)
		}
		out = append(out, id)
	}
	return out, nil
}
