// Package notify provides a multi-channel notification system. Notifications
// are dispatched to all registered senders (Telegram, Discord, etc.) and can be
// filtered by event type so operators receive only the alerts they care about.
// Delivery runs on a dedicated goroutine so a slow channel never stalls the
// trading loops.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the trading core.
const (
	EventPositionOpened  = "position_opened"
	EventPositionClosed  = "position_closed"
	EventStopLoss        = "stop_loss"
	EventFailoverOpened  = "failover_opened"
	EventFailoverClosed  = "failover_closed"
	EventOrderError      = "order_error"
	EventOrderTimeout    = "order_timeout"
	EventBalanceBlocked  = "balance_blocked"
	EventBalanceRestored = "balance_restored"
	EventShutdown        = "shutdown"
)

// queueSize bounds the outbound notification buffer; overflow is dropped with
// a log line rather than blocking the caller.
const queueSize = 64

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// notification is one queued outbound message.
type notification struct {
	event   string
	title   string
	message string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards messages whose event type
// is in the allowed set. Messages are queued and delivered by Run.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	queue   chan notification
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan notification, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify queues a notification for delivery if the event type is allowed.
// It never blocks: when the queue is full the message is dropped and logged.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return
	}

	select {
	case n.queue <- notification{event: event, title: title, message: message}:
	default:
		n.logger.WarnContext(ctx, "notification queue full, dropping",
			slog.String("event", event),
			slog.String("title", title),
		)
	}
}

// Run drains the queue and delivers messages until ctx is cancelled. It is
// meant to be started once as its own goroutine.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-n.queue:
			if err := n.dispatch(ctx, msg.title, msg.message); err != nil {
				n.logger.ErrorContext(ctx, "notification delivery failed",
					slog.String("event", msg.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
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
