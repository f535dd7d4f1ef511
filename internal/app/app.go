// Package app owns the top-level application lifecycle. It wires the
// infrastructure and the trading components together and runs them until the
// context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradecraft-labs/microscalp/internal/config"
	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/executor"
	"github.com/tradecraft-labs/microscalp/internal/monitor"
	"github.com/tradecraft-labs/microscalp/internal/notify"
	"github.com/tradecraft-labs/microscalp/internal/perf"
	"github.com/tradecraft-labs/microscalp/internal/risk"
	"github.com/tradecraft-labs/microscalp/internal/scanner"
	"github.com/tradecraft-labs/microscalp/internal/scheduler"
	"github.com/tradecraft-labs/microscalp/internal/scorer"
	"github.com/tradecraft-labs/microscalp/internal/universe"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the trading loops plus the optional
// websocket feed and journal archiver, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.Float64("initial_capital", a.cfg.Account.InitialCapital),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	limits := a.cfg.Risk.Limits()
	riskMgr := risk.New(limits, a.cfg.Account.InitialCapital, time.Now().UTC(), a.logger)

	univ := universe.New(deps.Gateway, a.cfg.Scanner.UniverseSize, a.cfg.Scanner.Min24hVolume, a.logger)
	if deps.Feed != nil {
		univ.OnRefresh(func(instruments []domain.Instrument) {
			symbols := make([]string, len(instruments))
			for i, inst := range instruments {
				symbols[i] = inst.ID
			}
			deps.Feed.SetSymbols(symbols)
		})
	}

	scan := scanner.New(deps.Gateway, deps.Prices, a.logger)
	score := scorer.New(a.cfg.Scanner.MinConfidence)
	exec := executor.New(deps.Gateway, riskMgr, limits, a.logger)

	var tradeStore domain.TradeStore
	if deps.TradeStore != nil {
		tradeStore = deps.TradeStore
	}
	var snapshotStore domain.SnapshotStore
	if deps.SnapshotStore != nil {
		snapshotStore = deps.SnapshotStore
	}

	mon := monitor.New(deps.Gateway, riskMgr, deps.Journal, tradeStore, deps.Prices, limits.MaxHoldTime, a.logger)
	tracker := perf.New(riskMgr, a.cfg.Account.InitialCapital, deps.Journal, snapshotStore, a.logger)

	if alerter := a.buildAlerter(); alerter != nil {
		riskMgr.OnStateChange(func(_, to risk.State, acct domain.AccountState) {
			switch to {
			case risk.StateDayLimit:
				alerter.DayLimit(context.Background(), acct)
			case risk.StateHalted:
				alerter.Halt(context.Background(), acct)
			}
		})
		mon.OnTradeClosed(func(trade domain.ClosedTrade) {
			alerter.TradeClosed(context.Background(), trade)
		})
		alerter.Startup(ctx, a.cfg.Mode, a.cfg.Account.InitialCapital)
	}

	a.logResumeState(ctx, deps)

	sched := scheduler.New(univ, scan, score, riskMgr, exec, mon, tracker, deps.Gateway, scheduler.Intervals{
		Scan:            time.Duration(a.cfg.Scanner.ScanIntervalSec) * time.Second,
		Monitor:         time.Duration(a.cfg.Monitor.IntervalSec) * time.Second,
		Snapshot:        time.Duration(a.cfg.Performance.SnapshotIntervalSec) * time.Second,
		UniverseRefresh: time.Duration(a.cfg.Scanner.UniverseRefreshSec) * time.Second,
		ShutdownTimeout: time.Duration(a.cfg.Monitor.ShutdownTimeoutSec) * time.Second,
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if deps.Feed != nil {
		g.Go(func() error { return deps.Feed.Run(gctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx, deps.ArchiveInterval) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildAlerter assembles the alert channels from configuration. Returns nil
// when no channel is configured.
func (a *App) buildAlerter() *notify.Alerter {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhook))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewAlerter(senders, a.cfg.Notify.Events, a.logger)
}

// logResumeState surfaces what a previous run left behind so an operator
// restarting after a halt sees the prior state up front.
func (a *App) logResumeState(ctx context.Context, deps *Dependencies) {
	if deps.SnapshotStore != nil {
		if snap, err := deps.SnapshotStore.Latest(ctx); err == nil {
			a.logger.InfoContext(ctx, "previous run state",
				slog.Time("snapshot_time", snap.Time),
				slog.Float64("balance", snap.Balance),
				slog.Int("total_trades", snap.TotalTrades),
				slog.Float64("total_pnl", snap.TotalPnL),
			)
		}
	}
	if deps.TradeStore != nil {
		if trades, err := deps.TradeStore.ListRecent(ctx, 5); err == nil && len(trades) > 0 {
			a.logger.InfoContext(ctx, "recent closed trades",
				slog.Int("count", len(trades)),
				slog.String("last_instrument", trades[0].InstrumentID),
				slog.Float64("last_pnl", trades[0].PnL),
			)
		}
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
