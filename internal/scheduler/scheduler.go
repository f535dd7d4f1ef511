// Package scheduler drives the independently-timed scan, monitor, and
// snapshot loops plus the slow universe refresh, and owns the shutdown
// sequence.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/executor"
	"github.com/tradecraft-labs/microscalp/internal/monitor"
	"github.com/tradecraft-labs/microscalp/internal/perf"
	"github.com/tradecraft-labs/microscalp/internal/risk"
	"github.com/tradecraft-labs/microscalp/internal/scanner"
	"github.com/tradecraft-labs/microscalp/internal/scorer"
	"github.com/tradecraft-labs/microscalp/internal/universe"
)

// Intervals groups the loop timings.
type Intervals struct {
	Scan            time.Duration
	Monitor         time.Duration
	Snapshot        time.Duration
	UniverseRefresh time.Duration
	ShutdownTimeout time.Duration
}

// Scheduler wires the cycle: scan -> score -> risk gate -> execute, alongside
// the monitor and snapshot loops. No loop blocks another's timer; they share
// account state only through the risk manager's lock.
type Scheduler struct {
	universe  *universe.Manager
	scanner   *scanner.Scanner
	scorer    *scorer.Scorer
	risk      *risk.Manager
	executor  *executor.Coordinator
	monitor   *monitor.Monitor
	perf      *perf.Tracker
	gateway   domain.MarketGateway
	intervals Intervals
	logger    *slog.Logger
}

// New creates a Scheduler.
func New(
	univ *universe.Manager,
	scan *scanner.Scanner,
	score *scorer.Scorer,
	riskMgr *risk.Manager,
	exec *executor.Coordinator,
	mon *monitor.Monitor,
	tracker *perf.Tracker,
	gateway domain.MarketGateway,
	intervals Intervals,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		universe:  univ,
		scanner:   scan,
		scorer:    score,
		risk:      riskMgr,
		executor:  exec,
		monitor:   mon,
		perf:      tracker,
		gateway:   gateway,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled. On shutdown it stops admitting new
// cycles, instructs the monitor to close every open position, waits up to
// ShutdownTimeout for confirmations, and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("scan_interval", s.intervals.Scan),
		slog.Duration("monitor_interval", s.intervals.Monitor),
		slog.Duration("snapshot_interval", s.intervals.Snapshot),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.universe.Run(gctx, s.intervals.UniverseRefresh) })
	g.Go(func() error { return s.scanLoop(gctx) })
	g.Go(func() error { return s.monitorLoop(gctx) })
	g.Go(func() error { return s.snapshotLoop(gctx) })

	err := g.Wait()
	s.shutdown()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scanLoop runs one full trading cycle per tick. The first cycle runs
// immediately so a fresh process starts trading without waiting a full
// interval.
func (s *Scheduler) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.intervals.Scan)
	defer ticker.Stop()

	s.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle executes one scan cycle end to end. Partial failures never abort the
// cycle; every instrument and opportunity is independently fallible.
func (s *Scheduler) Cycle(ctx context.Context) {
	now := time.Now().UTC()
	s.risk.RollDay(now)

	// Refresh the account balance from the venue; a failed call keeps the
	// last known balance.
	if balance, err := s.gateway.GetBalance(ctx); err != nil {
		s.logger.WarnContext(ctx, "balance refresh failed",
			slog.String("error", err.Error()),
		)
	} else {
		s.risk.UpdateBalance(balance)
	}

	if s.risk.Halted() {
		s.logger.WarnContext(ctx, "halted, skipping scan cycle")
		return
	}

	scanned := s.scanner.Scan(ctx, s.universe.Instruments())
	opps := s.scorer.Rank(scanned, now)
	if len(opps) == 0 {
		s.logger.DebugContext(ctx, "no opportunities this cycle")
		return
	}

	s.logger.InfoContext(ctx, "cycle opportunities ranked",
		slog.Int("count", len(opps)),
		slog.String("top", opps[0].Instrument.ID),
		slog.Float64("top_score", opps[0].Score),
	)
	s.executor.ExecuteCycle(ctx, opps)
}

func (s *Scheduler) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.intervals.Monitor)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.monitor.Tick(ctx)
		}
	}
}

func (s *Scheduler) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.intervals.Snapshot)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.perf.Snapshot(ctx)
		}
	}
}

// shutdown closes all open positions under a fresh bounded context (the run
// context is already cancelled) and emits a final snapshot.
func (s *Scheduler) shutdown() {
	timeout := s.intervals.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	open := len(s.risk.OpenPositions())
	if open > 0 {
		s.logger.Info("shutdown: closing open positions", slog.Int("open", open))
		if err := s.monitor.CloseAll(ctx, domain.CloseShutdown); err != nil {
			s.logger.Error("shutdown close-all incomplete", slog.String("error", err.Error()))
		}
	}

	s.perf.Snapshot(ctx)
	s.logger.Info("scheduler stopped")
}
