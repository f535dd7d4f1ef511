// Package risk implements the safety core: the account state machine
// (normal / day-limit-reached / halted), the admission gate every entry must
// pass, and the single serialization point for account state and the open
// position set.
package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// State is the risk state machine position.
type State int

const (
	// StateNormal admits entries subject to per-trade checks.
	StateNormal State = iota
	// StateDayLimit blocks new entries until the trading-day rollover.
	// Existing positions keep running.
	StateDayLimit
	// StateHalted is the latched circuit breaker: all entries blocked, all
	// open positions force-closed. Leaving it requires a process restart.
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDayLimit:
		return "day_limit_reached"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// RejectReason explains a gate rejection. Rejections are expected
// control-flow outcomes, recorded as decisions rather than errors.
type RejectReason string

const (
	RejectConcurrencyCap   RejectReason = "concurrency_cap_reached"
	RejectDailyLimit       RejectReason = "daily_limit_reached"
	RejectCircuitBreaker   RejectReason = "circuit_breaker_halted"
	RejectSizeBelowMinimum RejectReason = "size_below_minimum"
)

// Decision is the outcome of an admission check. Approved decisions carry the
// sized entry; rejected ones carry the reason.
type Decision struct {
	Approved bool
	Size     float64
	Reason   RejectReason
}

// Stats aggregates the closed-trade tally read by the performance tracker.
type Stats struct {
	TotalTrades int
	Wins        int
	TotalPnL    float64
}

// Manager guards AccountState and the open position set behind one mutex.
// Every gating decision, registration, settlement, and balance update runs
// under that lock, so two concurrent cycles can never over-admit past the
// concurrency cap or the available capital.
type Manager struct {
	limits domain.RiskLimits
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	acct     domain.AccountState
	open     map[string]*domain.Position // by position ID
	reserved map[string]float64          // instrument ID -> capital reserved for an admitted, not-yet-filled entry
	stats    Stats

	onStateChange func(from, to State, acct domain.AccountState)
}

// New creates a Manager starting from initialCapital in the normal state,
// with the day clock anchored at now.
func New(limits domain.RiskLimits, initialCapital float64, now time.Time, logger *slog.Logger) *Manager {
	day := now.UTC().Truncate(24 * time.Hour)
	return &Manager{
		limits: limits,
		logger: logger.With(slog.String("component", "risk_manager")),
		state:  StateNormal,
		acct: domain.AccountState{
			Balance:         initialCapital,
			PeakBalance:     initialCapital,
			DayStartBalance: initialCapital,
			Day:             day,
		},
		open:     make(map[string]*domain.Position),
		reserved: make(map[string]float64),
	}
}

// OnStateChange registers a callback fired after every state transition with
// a copy of the account state. The callback runs on its own goroutine so slow
// delivery (operator alerts) never stalls settlement. Set it before the loops
// start.
func (m *Manager) OnStateChange(fn func(from, to State, acct domain.AccountState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Admit gates one opportunity. On approval it reserves the sized capital and
// a concurrency slot immediately, so a later-ranked opportunity in the same
// cycle is evaluated against the reduced remainder. The reservation is
// released by Commit (order filled) or Release (order failed).
func (m *Manager) Admit(opp domain.Opportunity) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateHalted:
		return m.reject(opp, RejectCircuitBreaker)
	case StateDayLimit:
		return m.reject(opp, RejectDailyLimit)
	}

	if len(m.open)+len(m.reserved) >= m.limits.MaxConcurrentTrades {
		return m.reject(opp, RejectConcurrencyCap)
	}

	size := clamp(opp.Confidence*m.limits.MaxPositionSize, m.limits.MinPositionSize, m.limits.MaxPositionSize)

	// Never lever beyond available capital: committed plus reserved notional
	// plus this entry must fit inside the balance.
	available := m.acct.Balance - m.committedLocked()
	if size > available {
		size = available
	}
	if size < m.limits.MinPositionSize || size < opp.Instrument.MinSize {
		return m.reject(opp, RejectSizeBelowMinimum)
	}

	m.reserved[opp.Instrument.ID] = size
	m.logger.Info("entry admitted",
		slog.String("instrument", opp.Instrument.ID),
		slog.String("direction", string(opp.Direction)),
		slog.Float64("size", size),
		slog.Float64("score", opp.Score),
	)
	return Decision{Approved: true, Size: size}
}

// Commit converts the instrument's reservation into an open position.
func (m *Manager) Commit(pos domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reserved, pos.Instrument.ID)
	p := pos
	m.open[p.ID] = &p
	m.acct.OpenPositions = len(m.open)
}

// Release drops the reservation for an instrument whose order did not fill.
func (m *Manager) Release(instrumentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, instrumentID)
}

// MarkClosing transitions a position from open to closing, preventing
// duplicate close attempts. It returns false when the position is unknown or
// already past open.
func (m *Manager) MarkClosing(positionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[positionID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return false
	}
	pos.Status = domain.PositionStatusClosing
	return true
}

// SetCloseReason stamps the pending exit reason on a closing position so a
// retried close attempt settles with the original trigger.
func (m *Manager) SetCloseReason(positionID string, reason domain.CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.open[positionID]; ok {
		pos.Reason = reason
	}
}

// Settle finalizes a close: the position transitions to closed and leaves the
// open set, and balance, daily PnL, peak balance, and the trade tally update
// atomically with it. State transitions (day limit, drawdown halt, circuit
// breaker) are evaluated in the same critical section.
func (m *Manager) Settle(positionID string, exitPrice float64, reason domain.CloseReason, closedAt time.Time) (domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[positionID]
	if !ok {
		return domain.ClosedTrade{}, fmt.Errorf("risk: settle unknown position %q", positionID)
	}

	pnl := pos.UnrealizedPnL(exitPrice)
	closed := closedAt.UTC()
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closed
	pos.ExitPrice = &exitPrice
	pos.PnL = pnl
	pos.Reason = reason

	delete(m.open, positionID)
	m.acct.OpenPositions = len(m.open)
	m.acct.Balance += pnl
	if m.acct.Balance < 0 {
		m.acct.Balance = 0
	}
	m.acct.DailyPnL += pnl
	if m.acct.Balance > m.acct.PeakBalance {
		m.acct.PeakBalance = m.acct.Balance
	}

	m.stats.TotalTrades++
	m.stats.TotalPnL += pnl
	if pnl > 0 {
		m.stats.Wins++
	}

	m.evaluateTransitionsLocked()

	m.logger.Info("position settled",
		slog.String("position_id", positionID),
		slog.String("instrument", pos.Instrument.ID),
		slog.String("reason", string(reason)),
		slog.Float64("pnl", pnl),
		slog.Float64("balance", m.acct.Balance),
	)

	return domain.ClosedTrade{
		PositionID:   pos.ID,
		InstrumentID: pos.Instrument.ID,
		Direction:    pos.Direction,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		Size:         pos.Size,
		PnL:          pnl,
		Reason:       reason,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     closed,
	}, nil
}

// UpdateBalance folds a fresh exchange balance into the account state and
// re-evaluates the drawdown halt against the new mark.
func (m *Manager) UpdateBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if balance < 0 {
		balance = 0
	}
	m.acct.Balance = balance
	if balance > m.acct.PeakBalance {
		m.acct.PeakBalance = balance
	}
	m.evaluateTransitionsLocked()
}

// RollDay resets the daily counters when now has crossed into a new UTC day.
// A day-limit block lifts on rollover; a halt does not.
func (m *Manager) RollDay(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := now.UTC().Truncate(24 * time.Hour)
	if !day.After(m.acct.Day) {
		return false
	}

	m.acct.Day = day
	m.acct.DayStartBalance = m.acct.Balance
	m.acct.DailyPnL = 0
	if m.state == StateDayLimit {
		m.transitionLocked(StateNormal)
		m.logger.Info("trading day rolled over, day limit cleared")
	} else {
		m.logger.Info("trading day rolled over")
	}
	return true
}

// State returns the current state machine position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Halted reports whether the circuit breaker has latched.
func (m *Manager) Halted() bool {
	return m.State() == StateHalted
}

// Account returns a copy of the account state.
func (m *Manager) Account() domain.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acct
}

// TradeStats returns a copy of the closed-trade tally.
func (m *Manager) TradeStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// OpenPositions returns value copies of every tracked position, ordered by
// opened-at then ID so iteration order is stable.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// HasOpen reports whether an instrument already has an open or reserved
// position.
func (m *Manager) HasOpen(instrumentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reserved[instrumentID]; ok {
		return true
	}
	for _, p := range m.open {
		if p.Instrument.ID == instrumentID {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Internals. All helpers below assume m.mu is held.
// ---------------------------------------------------------------------------

// committedLocked is the notional already spoken for: open positions plus
// outstanding reservations.
func (m *Manager) committedLocked() float64 {
	var sum float64
	for _, p := range m.open {
		sum += p.Size
	}
	for _, r := range m.reserved {
		sum += r
	}
	return sum
}

// transitionLocked moves the state machine and fires the registered callback
// with value copies, off the lock.
func (m *Manager) transitionLocked(to State) {
	from := m.state
	m.state = to
	if m.onStateChange != nil && from != to {
		go m.onStateChange(from, to, m.acct)
	}
}

// evaluateTransitionsLocked advances the state machine. Halted is latched:
// once entered it is never left here.
func (m *Manager) evaluateTransitionsLocked() {
	if m.state == StateHalted {
		return
	}

	// Drawdown from the high-water mark, and realized daily loss against the
	// day-start balance, both trip the breaker.
	if m.acct.PeakBalance > 0 {
		drawdown := (m.acct.PeakBalance - m.acct.Balance) / m.acct.PeakBalance
		if drawdown >= m.limits.MaxDrawdownLimit {
			m.transitionLocked(StateHalted)
			m.logger.Error("max drawdown breached, halting",
				slog.Float64("drawdown", drawdown),
				slog.Float64("limit", m.limits.MaxDrawdownLimit),
			)
			return
		}
	}
	if m.acct.DayStartBalance > 0 && m.acct.DailyPnL <= -m.limits.CircuitBreakerLimit*m.acct.DayStartBalance {
		m.transitionLocked(StateHalted)
		m.logger.Error("circuit breaker loss breached, halting",
			slog.Float64("daily_pnl", m.acct.DailyPnL),
			slog.Float64("limit", m.limits.CircuitBreakerLimit),
		)
		return
	}

	if m.state == StateNormal &&
		m.acct.DayStartBalance > 0 &&
		m.acct.DailyPnL <= -m.limits.DailyLossLimit*m.acct.DayStartBalance {
		m.transitionLocked(StateDayLimit)
		m.logger.Warn("daily loss limit reached, new entries blocked until rollover",
			slog.Float64("daily_pnl", m.acct.DailyPnL),
			slog.Float64("limit", m.limits.DailyLossLimit),
		)
	}
}

func (m *Manager) reject(opp domain.Opportunity, reason RejectReason) Decision {
	m.logger.Debug("entry rejected",
		slog.String("instrument", opp.Instrument.ID),
		slog.String("reason", string(reason)),
	)
	return Decision{Approved: false, Reason: reason}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
