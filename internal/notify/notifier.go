// Package notify fans operator alerts out to chat channels. Alerts are
// filtered by event so operators only hear about what they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Events the engine raises.
const (
	EventHealthWarning      = "health_warning"
	EventHealthLiquidatable = "health_liquidatable"
	EventActionSucceeded    = "action_succeeded"
	EventActionFailed       = "action_failed"
	EventLiquidationFound   = "liquidation_found"
	EventLiquidationDone    = "liquidation_executed"
	EventLiquidationFailed  = "liquidation_failed"
	EventArchive            = "archive"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
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

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify sends to all senders when event passes the filter. A nil Notifier
// is a no-op so callers can leave notifications unwired.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Notifyf formats the message.
func (n *Notifier) Notifyf(ctx context.Context, event, title, format string, args ...any) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.Notify(ctx, event, title, fmt.Sprintf(format, args...))
}
