// Package notify delivers operator alerts about market lifecycle events to
// chat channels (Telegram, Discord). Alerts can be filtered by event kind so
// operators receive only the ones they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// DefaultKinds are the events alerted on when none are configured. Trades
// and claims are too frequent to be useful in a chat channel.
var DefaultKinds = []domain.EventKind{
	domain.EventMarketCreated,
	domain.EventOutcomeAsserted,
	domain.EventAssertionDisputed,
	domain.EventMarketResolved,
	domain.EventMarketCorrected,
}

// Notifier dispatches event alerts to one or more Senders.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose kind appears in kinds are forwarded; an empty list means
// DefaultKinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultKinds {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// NotifyEvent formats e and sends it when its kind is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.Event) error {
	if !n.kinds[e.Kind] {
		return nil
	}
	title, message := Format(e)
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notify: sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Format renders an event as an alert title and body.
func Format(e domain.Event) (title, message string) {
	title = fmt.Sprintf("Market #%d: %s", e.MarketID, humanKind(e.Kind))

	var b strings.Builder
	if q, ok := e.Detail["question"].(string); ok && q != "" {
		fmt.Fprintf(&b, "%s\n", q)
	}
	switch e.Kind {
	case domain.EventOutcomeAsserted:
		fmt.Fprintf(&b, "Outcome %d asserted by %s with bond %s", e.Outcome, e.Actor.Hex(), e.Amount)
	case domain.EventAssertionDisputed:
		fmt.Fprintf(&b, "Disputed by %s", e.Actor.Hex())
	case domain.EventMarketResolved:
		fmt.Fprintf(&b, "Resolved to outcome %d", e.Outcome)
	default:
		fmt.Fprintf(&b, "Actor %s", e.Actor.Hex())
	}
	fmt.Fprintf(&b, "\nseq %d at %s", e.Seq, e.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return title, b.String()
}

func humanKind(k domain.EventKind) string {
	switch k {
	case domain.EventMarketCreated:
		return "created"
	case domain.EventOutcomeAsserted:
		return "outcome asserted"
	case domain.EventAssertionDisputed:
		return "assertion disputed"
	case domain.EventMarketResolved:
		return "resolved"
	case domain.EventMarketCorrected:
		return "corrected by owner"
	default:
		return string(k)
	}
}
