package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// client is one connection. With no markets selected it receives every
// market's events.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	markets map[uint64]struct{}
}

// command changes a client's market selection:
//
//	{"action":"subscribe","markets":[1,2]}
//	{"action":"unsubscribe","markets":[2]}
type command struct {
	Action  string   `json:"action"`
	Markets []uint64 `json:"markets"`
}

func newClient(h *Hub, conn *websocket.Conn, markets []uint64) *client {
	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		markets: make(map[uint64]struct{}, len(markets)),
	}
	for _, id := range markets {
		c.markets[id] = struct{}{}
	}
	return c
}

func (c *client) watches(marketID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) == 0 {
		return true
	}
	_, ok := c.markets[marketID]
	return ok
}

func (c *client) apply(cmd command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range cmd.Markets {
		switch cmd.Action {
		case "subscribe":
			c.markets[id] = struct{}{}
		case "unsubscribe":
			delete(c.markets, id)
		}
	}
}

// write sends f synchronously. Only used before writeLoop starts.
func (c *client) write(f Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *client) readLoop() {
	defer func() {
		c.hub.leaves <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if json.Unmarshal(data, &cmd) == nil {
			c.apply(cmd)
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
