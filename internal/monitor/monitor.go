// Package monitor polls open positions on a tight interval, applies the exit
// rules, and drives positions through closing to closed with atomic account
// settlement.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/risk"
)

// Monitor evaluates exit conditions for every open position. Exit priority:
// forced close (risk halted) > stop-loss > take-profit > time stop.
type Monitor struct {
	gateway domain.MarketGateway
	risk    *risk.Manager
	journal domain.Journal
	trades  domain.TradeStore // optional
	prices  domain.PriceCache // optional fallback quote source
	maxHold time.Duration
	logger  *slog.Logger

	now      func() time.Time
	onClosed func(domain.ClosedTrade)
}

// New creates a Monitor. trades and prices may be nil.
func New(
	gateway domain.MarketGateway,
	riskMgr *risk.Manager,
	journal domain.Journal,
	trades domain.TradeStore,
	prices domain.PriceCache,
	maxHold time.Duration,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		gateway: gateway,
		risk:    riskMgr,
		journal: journal,
		trades:  trades,
		prices:  prices,
		maxHold: maxHold,
		logger:  logger.With(slog.String("component", "position_monitor")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnTradeClosed registers a callback invoked with every settled trade, after
// the journal and store writes. Set it before the loops start.
func (m *Monitor) OnTradeClosed(fn func(domain.ClosedTrade)) {
	m.onClosed = fn
}

// Tick runs one monitoring pass. Per-position failures are isolated; a
// position whose quote or close attempt fails is retried on the next tick.
func (m *Monitor) Tick(ctx context.Context) {
	halted := m.risk.Halted()

	for _, pos := range m.risk.OpenPositions() {
		if ctx.Err() != nil {
			return
		}

		// A position stuck in closing had its close order time out; retry the
		// close. The venue reports AlreadyClosed if the earlier attempt won.
		if pos.Status == domain.PositionStatusClosing {
			m.close(ctx, pos, pos.Reason)
			continue
		}

		reason, ok := m.exitReason(ctx, pos, halted)
		if !ok {
			continue
		}
		m.close(ctx, pos, reason)
	}
}

// exitReason evaluates the exit rules for one open position in priority
// order. ok is false when the position should stay open.
func (m *Monitor) exitReason(ctx context.Context, pos domain.Position, halted bool) (domain.CloseReason, bool) {
	if halted {
		return domain.CloseForced, true
	}

	price, priceOK := m.quote(ctx, pos.Instrument)
	if priceOK {
		if pos.StopLossHit(price) {
			return domain.CloseStopLoss, true
		}
		if pos.TakeProfitHit(price) {
			return domain.CloseTakeProfit, true
		}
	}

	if m.maxHold > 0 && m.now().Sub(pos.OpenedAt) >= m.maxHold {
		return domain.CloseTimeStop, true
	}
	return "", false
}

// quote fetches the current price from the gateway, falling back to the
// price cache when the gateway call fails.
func (m *Monitor) quote(ctx context.Context, inst domain.Instrument) (float64, bool) {
	md, err := m.gateway.GetMarketData(ctx, inst)
	if err == nil && md.LastPrice > 0 {
		if m.prices != nil {
			_ = m.prices.SetPrice(ctx, inst.ID, md.LastPrice, m.now())
		}
		return md.LastPrice, true
	}

	m.logger.DebugContext(ctx, "quote fetch failed",
		slog.String("instrument", inst.ID),
		slog.String("error", errString(err)),
	)

	if m.prices != nil {
		if cached, _, cacheErr := m.prices.GetPrice(ctx, inst.ID); cacheErr == nil && cached > 0 {
			return cached, true
		}
	}
	return 0, false
}

// close transitions the position to closing, submits the closing order, and
// settles on confirmation.
func (m *Monitor) close(ctx context.Context, pos domain.Position, reason domain.CloseReason) {
	if pos.Status == domain.PositionStatusOpen {
		if !m.risk.MarkClosing(pos.ID) {
			return
		}
		m.risk.SetCloseReason(pos.ID, reason)
	}

	ack, err := m.gateway.ClosePosition(ctx, pos.OrderID)
	switch {
	case err == nil:
		m.settle(ctx, pos, ack.ExitPrice, reason)
	case errors.Is(err, domain.ErrAlreadyClosed):
		// The venue's own stop/take order beat us to it; settle at the last
		// price we can observe.
		exit := pos.EntryPrice
		if p, ok := m.quote(ctx, pos.Instrument); ok {
			exit = p
		}
		m.settle(ctx, pos, exit, reason)
	case domain.Transient(err):
		m.logger.Warn("close attempt timed out, will retry",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	default:
		m.logger.Error("close attempt failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// settle finalizes the close through the risk manager and records the trade.
func (m *Monitor) settle(ctx context.Context, pos domain.Position, exitPrice float64, reason domain.CloseReason) {
	trade, err := m.risk.Settle(pos.ID, exitPrice, reason, m.now())
	if err != nil {
		m.logger.Error("settlement failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if m.journal != nil {
		if jErr := m.journal.RecordTrade(trade); jErr != nil {
			m.logger.Warn("journal write failed",
				slog.String("position_id", pos.ID),
				slog.String("error", jErr.Error()),
			)
		}
	}
	if m.trades != nil {
		if sErr := m.trades.Insert(ctx, trade); sErr != nil {
			m.logger.Warn("trade store write failed",
				slog.String("position_id", pos.ID),
				slog.String("error", sErr.Error()),
			)
		}
	}
	if m.onClosed != nil {
		m.onClosed(trade)
	}
}

// CloseAll closes every open position with the given reason, retrying until
// the open set drains or ctx expires. Used for circuit-breaker remediation
// and shutdown.
func (m *Monitor) CloseAll(ctx context.Context, reason domain.CloseReason) error {
	for {
		open := m.risk.OpenPositions()
		if len(open) == 0 {
			return nil
		}
		if ctx.Err() != nil {
			m.logger.Error("close-all timed out with positions remaining",
				slog.Int("remaining", len(open)),
			)
			return ctx.Err()
		}

		for _, pos := range open {
			m.close(ctx, pos, reason)
		}

		if len(m.risk.OpenPositions()) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "empty quote"
	}
	return err.Error()
}
