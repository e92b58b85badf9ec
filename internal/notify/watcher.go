package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Watcher feeds events from the signal bus into a Notifier.
type Watcher struct {
	bus      domain.SignalBus
	pattern  string
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher subscribed to pattern.
func NewWatcher(bus domain.SignalBus, pattern string, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		pattern:  pattern,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run delivers alerts until ctx is cancelled. Call in a goroutine. Delivery
// failures are logged and never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	ch, err := w.bus.Subscribe(ctx, w.pattern)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", w.pattern, err)
	}
	w.logger.InfoContext(ctx, "notify: watching", slog.String("pattern", w.pattern))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			var e domain.Event
			if err := json.Unmarshal(payload, &e); err != nil {
				w.logger.WarnContext(ctx, "notify: bad event payload", slog.String("error", err.Error()))
				continue
			}
			_ = w.notifier.NotifyEvent(ctx, e)
		}
	}
}
