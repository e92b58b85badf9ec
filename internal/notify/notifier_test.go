package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/store/memory"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersKinds(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, discardLogger())

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{MarketID: 1, Kind: domain.EventSharesPurchased}))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{MarketID: 1, Kind: domain.EventMarketResolved, Outcome: 2}))
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "Market #1: resolved", rec.titles[0])

	// An explicit list replaces the defaults.
	n = NewNotifier([]Sender{rec}, []string{"SharesPurchased"}, discardLogger())
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Kind: domain.EventMarketResolved}))
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Kind: domain.EventSharesPurchased}))
	assert.Equal(t, 2, rec.count())
}

func TestFormatAssertion(t *testing.T) {
	actor := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	title, body := Format(domain.Event{
		MarketID:  7,
		Seq:       12,
		Kind:      domain.EventOutcomeAsserted,
		Actor:     actor,
		Outcome:   1,
		Amount:    5_000_000,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "Market #7: outcome asserted", title)
	assert.Contains(t, body, "Outcome 1 asserted by "+actor.Hex())
	assert.Contains(t, body, "bond 5")
	assert.Contains(t, body, "seq 12")
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "T", "body"))
	assert.Equal(t, "**T**\nbody", got["content"])
}

func TestTelegramSenderError(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "tok", "42").Send(context.Background(), "T", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, "/bottok/sendMessage", path)
}

func TestWatcherDeliversBusEvents(t *testing.T) {
	bus := memory.NewBus()
	rec := &recordingSender{}
	w := NewWatcher(bus, "ch:market:*", NewNotifier([]Sender{rec}, nil, discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	payload, err := json.Marshal(domain.Event{MarketID: 3, Kind: domain.EventMarketCreated})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_ = bus.Publish(ctx, "ch:market:3", payload)
		return rec.count() > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
