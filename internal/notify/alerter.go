// Package notify delivers operator alerts for the events that matter on an
// unattended account: protective state transitions, closed trades, and
// startup. Alerts fan out to every configured channel and can be filtered by
// event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// Alert event types.
const (
	EventStartup     = "startup"
	EventDayLimit    = "day_limit"
	EventHalt        = "halt"
	EventTradeClosed = "trade_closed"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers an alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the channel.
	Name() string
}

// Alerter dispatches alerts to its senders. Only events in the allowed set
// are forwarded; an empty set allows everything.
type Alerter struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewAlerter creates an Alerter delivering to the given senders, filtered to
// the listed event types (all types when the list is empty).
func NewAlerter(senders []Sender, events []string, logger *slog.Logger) *Alerter {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Alerter{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// Startup announces a fresh run with its mode and starting balance.
func (a *Alerter) Startup(ctx context.Context, mode string, balance float64) {
	a.send(ctx, EventStartup, "bot started",
		fmt.Sprintf("mode=%s balance=%.2f", mode, balance))
}

// DayLimit reports that entries are blocked until the next UTC day.
func (a *Alerter) DayLimit(ctx context.Context, acct domain.AccountState) {
	a.send(ctx, EventDayLimit, "daily loss limit reached",
		fmt.Sprintf("daily_pnl=%.2f balance=%.2f, entries blocked until day rollover",
			acct.DailyPnL, acct.Balance))
}

// Halt reports that the circuit breaker latched and trading stopped.
func (a *Alerter) Halt(ctx context.Context, acct domain.AccountState) {
	a.send(ctx, EventHalt, "trading halted",
		fmt.Sprintf("daily_pnl=%.2f balance=%.2f peak=%.2f, manual restart required",
			acct.DailyPnL, acct.Balance, acct.PeakBalance))
}

// TradeClosed reports a settled position.
func (a *Alerter) TradeClosed(ctx context.Context, trade domain.ClosedTrade) {
	a.send(ctx, EventTradeClosed, "trade closed",
		fmt.Sprintf("%s %s pnl=%.2f reason=%s",
			trade.InstrumentID, trade.Direction, trade.PnL, trade.Reason))
}

// send fans the alert out to every channel. A failed channel never blocks the
// others; failures are logged, not returned, because alert delivery must not
// disturb the trading loop.
func (a *Alerter) send(ctx context.Context, event, title, message string) {
	if a == nil || len(a.senders) == 0 {
		return
	}
	if len(a.events) > 0 && !a.events[event] {
		return
	}

	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.WarnContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
