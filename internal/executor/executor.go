// Package executor submits risk-approved entries to the market gateway,
// idempotently per instrument, and materializes positions from fills.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradecraft-labs/microscalp/internal/domain"
	"github.com/tradecraft-labs/microscalp/internal/risk"
)

// maxAttempts bounds submission retries for transient gateway errors.
const maxAttempts = 3

// Coordinator executes one ranked opportunity list per cycle. Admissions run
// strictly in rank order: each admission is finalized (capital reserved)
// before the next candidate is evaluated, so two low-ranked entries can never
// jointly squeeze past the cap ahead of a higher-ranked one.
type Coordinator struct {
	gateway domain.MarketGateway
	risk    *risk.Manager
	limits  domain.RiskLimits
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // instrument IDs with an order on the wire

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Coordinator.
func New(gateway domain.MarketGateway, riskMgr *risk.Manager, limits domain.RiskLimits, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		gateway:  gateway,
		risk:     riskMgr,
		limits:   limits,
		logger:   logger.With(slog.String("component", "executor")),
		inflight: make(map[string]struct{}),
		sleep:    sleepCtx,
	}
}

// ExecuteCycle walks the ranked opportunities in order, gating each through
// the risk manager and submitting approved entries. A failure on one
// opportunity never aborts the rest of the cycle.
func (c *Coordinator) ExecuteCycle(ctx context.Context, opps []domain.Opportunity) {
	cycle := time.Now().UTC()
	var placed, rejected int

	for _, opp := range opps {
		if ctx.Err() != nil {
			return
		}

		if c.risk.HasOpen(opp.Instrument.ID) || !c.markInflight(opp.Instrument.ID) {
			c.logger.Debug("instrument already has exposure, skipping",
				slog.String("instrument", opp.Instrument.ID),
			)
			continue
		}

		decision := c.risk.Admit(opp)
		if !decision.Approved {
			c.clearInflight(opp.Instrument.ID)
			rejected++
			c.logger.Info("entry gated out",
				slog.String("instrument", opp.Instrument.ID),
				slog.String("reason", string(decision.Reason)),
			)
			// A halted or day-limited gate rejects everything after it too;
			// keep walking anyway so every decision is recorded.
			continue
		}

		if err := c.execute(ctx, opp, decision.Size, cycle); err != nil {
			c.risk.Release(opp.Instrument.ID)
			c.logger.Warn("entry failed",
				slog.String("instrument", opp.Instrument.ID),
				slog.String("error", err.Error()),
			)
		} else {
			placed++
		}
		c.clearInflight(opp.Instrument.ID)
	}

	if placed > 0 || rejected > 0 {
		c.logger.InfoContext(ctx, "cycle executed",
			slog.Int("candidates", len(opps)),
			slog.Int("placed", placed),
			slog.Int("rejected", rejected),
		)
	}
}

// execute submits one approved entry with bounded exponential backoff on
// transient errors, then registers the resulting position.
func (c *Coordinator) execute(ctx context.Context, opp domain.Opportunity, size float64, cycle time.Time) error {
	stop, take := scalpLevels(opp.Direction, opp.EntryPrice, c.limits.StopLoss, c.limits.TakeProfit)

	req := domain.OrderRequest{
		Instrument: opp.Instrument,
		Direction:  opp.Direction,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: take,
		// Idempotency key: the venue collapses resubmissions of the same
		// instrument+cycle pair into one order.
		ClientOrderID: fmt.Sprintf("%s-%d", opp.Instrument.ID, cycle.UnixMilli()),
	}

	var ack domain.OrderAck
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if sleepErr := c.sleep(ctx, backoffDelay(attempt-1)); sleepErr != nil {
				return sleepErr
			}
		}
		ack, err = c.gateway.PlaceOrder(ctx, req)
		if err == nil {
			break
		}
		if !domain.Transient(err) {
			return fmt.Errorf("executor: place order: %w", err)
		}
		c.logger.Warn("transient order failure, retrying",
			slog.String("instrument", opp.Instrument.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	if err != nil {
		return fmt.Errorf("executor: place order after %d attempts: %w", maxAttempts, err)
	}

	entry := ack.FillPrice
	if entry <= 0 {
		entry = opp.EntryPrice
	}
	stop, take = scalpLevels(opp.Direction, entry, c.limits.StopLoss, c.limits.TakeProfit)

	pos := domain.Position{
		ID:         uuid.New().String(),
		OrderID:    ack.OrderID,
		Instrument: opp.Instrument,
		Direction:  opp.Direction,
		EntryPrice: entry,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: take,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	c.risk.Commit(pos)

	c.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("instrument", pos.Instrument.ID),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry", entry),
		slog.Float64("size", size),
		slog.Float64("stop_loss", stop),
		slog.Float64("take_profit", take),
	)
	return nil
}

// scalpLevels computes stop-loss and take-profit prices from the entry price
// and the configured fractions, respecting direction.
func scalpLevels(dir domain.Direction, entry, stopPct, takePct float64) (stop, take float64) {
	if dir == domain.DirectionShort {
		return entry * (1 + stopPct), entry * (1 - takePct)
	}
	return entry * (1 - stopPct), entry * (1 + takePct)
}

func (c *Coordinator) markInflight(instrumentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[instrumentID]; ok {
		return false
	}
	c.inflight[instrumentID] = struct{}{}
	return true
}

func (c *Coordinator) clearInflight(instrumentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, instrumentID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
