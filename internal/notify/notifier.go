// Package notify delivers operator notifications about emitted trade intents
// and settled windows. Notifications are dispatched to all registered senders
// (Telegram, Discord) and can be filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Event types.
const (
	EventIntent     = "intent"
	EventSettlement = "settlement"
	EventStartup    = "startup"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards messages whose event type is in the allowed set. A nil *Notifier
// discards everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends a notification to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends the notification to every sender. A single sender failure
// does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
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

// IntentMessage renders an emitted trade intent.
func IntentMessage(in domain.TradeIntent) (title, message string) {
	title = fmt.Sprintf("%s %s @ %.2f", strings.ToUpper(in.Window.Asset), in.Direction, in.PriceLimitHint)
	message = fmt.Sprintf("window: %s\nsize: $%.2f\nremaining: %s\nreason: %s",
		in.Window.Slug,
		in.Size,
		in.Window.Remaining(in.EmittedAt).Round(time.Second),
		in.Reason,
	)
	return title, message
}

// SettlementMessage renders a resolved window and the P&L of the trades it
// settled.
func SettlementMessage(o domain.SettlementOutcome, trades []domain.PaperTrade) (title, message string) {
	var pnl float64
	for _, t := range trades {
		pnl += t.PnL
	}
	title = fmt.Sprintf("%s resolved %s", o.Slug, o.Winner)
	var b strings.Builder
	fmt.Fprintf(&b, "source: %s", o.Source)
	if o.StartPrice > 0 && o.EndPrice > 0 {
		fmt.Fprintf(&b, "\nstart: %.2f end: %.2f", o.StartPrice, o.EndPrice)
	}
	for _, t := range trades {
		fmt.Fprintf(&b, "\n%s %s $%.2f @ %.2f -> %s %+.2f", t.ID[:min(8, len(t.ID))], t.Direction, t.Size, t.Price, t.Status, t.PnL)
	}
	if len(trades) > 0 {
		fmt.Fprintf(&b, "\ntotal P&L: %+.2f", pnl)
	}
	return title, b.String()
}
