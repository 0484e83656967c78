// Package risk implements the circuit breaker guarding new position entry,
// durable idempotent manual resets and deterministic client order identity.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
)

// State is the breaker state. While HALTED no new positions open; existing
// positions keep being monitored and may still exit.
type State string

const (
	StateActive State = "ACTIVE"
	StateHalted State = "HALTED"
)

// HaltReason records which limit tripped the breaker.
type HaltReason string

const (
	HaltDailyLoss         HaltReason = "daily_loss_limit"
	HaltConsecutiveLosses HaltReason = "consecutive_losses"
	HaltDrawdown          HaltReason = "max_drawdown"
)

// Snapshot is the breaker's durable state, embedded in the portfolio
// snapshot so a restarted process resumes where it left off.
type Snapshot struct {
	State             State      `json:"state"`
	Reason            HaltReason `json:"reason,omitempty"`
	HaltedAt          *time.Time `json:"halted_at,omitempty"`
	DayStartValue     float64    `json:"day_start_value"`
	PeakValue         float64    `json:"peak_value"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
}

// CircuitBreaker is the ACTIVE/HALTED state machine. All methods are safe
// for concurrent use.
type CircuitBreaker struct {
	cfg config.RiskConfig
	log zerolog.Logger

	mu                sync.Mutex
	state             State
	reason            HaltReason
	haltedAt          *time.Time
	dayStartValue     float64
	peakValue         float64
	consecutiveLosses int
}

// NewCircuitBreaker creates a breaker in the ACTIVE state.
func NewCircuitBreaker(cfg config.RiskConfig, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg,
		log:   log.With().Str("service", "circuit_breaker").Logger(),
		state: StateActive,
	}
}

// Restore loads a previously persisted snapshot, typically at startup.
func (b *CircuitBreaker) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.State == "" {
		s.State = StateActive
	}
	b.state = s.State
	b.reason = s.Reason
	b.haltedAt = s.HaltedAt
	b.dayStartValue = s.DayStartValue
	b.peakValue = s.PeakValue
	b.consecutiveLosses = s.ConsecutiveLosses
}

// Snapshot returns the current durable state.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:             b.state,
		Reason:            b.reason,
		HaltedAt:          b.haltedAt,
		DayStartValue:     b.dayStartValue,
		PeakValue:         b.peakValue,
		ConsecutiveLosses: b.consecutiveLosses,
	}
}

// StartDay resets the daily baseline at the start of a trading day. A halted
// breaker reactivates automatically; daily loss and consecutive-loss
// counters reset.
func (b *CircuitBreaker) StartDay(portfolioValue float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalted {
		b.log.Info().Str("reason", string(b.reason)).Msg("Circuit breaker reactivated on new trading day")
	}
	b.state = StateActive
	b.reason = ""
	b.haltedAt = nil
	b.dayStartValue = portfolioValue
	b.consecutiveLosses = 0
	if portfolioValue > b.peakValue {
		b.peakValue = portfolioValue
	}
}

// RecordClose updates the consecutive-loss counter with a realized outcome
// and may trip the breaker.
func (b *CircuitBreaker) RecordClose(realizedPnL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if realizedPnL < 0 {
		b.consecutiveLosses++
	} else {
		b.consecutiveLosses = 0
	}

	if b.state == StateActive && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.halt(HaltConsecutiveLosses)
	}
}

// Observe evaluates the portfolio value against the daily loss and drawdown
// limits, tripping the breaker when either is exceeded. It returns the
// resulting state.
func (b *CircuitBreaker) Observe(portfolioValue float64) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if portfolioValue > b.peakValue {
		b.peakValue = portfolioValue
	}

	if b.state == StateHalted {
		return b.state
	}

	if b.dayStartValue > 0 {
		dailyLoss := (b.dayStartValue - portfolioValue) / b.dayStartValue
		if dailyLoss > b.cfg.DailyLossLimitPct {
			b.halt(HaltDailyLoss)
			return b.state
		}
	}
	if b.peakValue > 0 {
		drawdown := (b.peakValue - portfolioValue) / b.peakValue
		if drawdown > b.cfg.MaxDrawdownHaltPct {
			b.halt(HaltDrawdown)
		}
	}
	return b.state
}

// CanOpen reports whether new positions may be opened.
func (b *CircuitBreaker) CanOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateActive
}

// ManualReset reactivates a halted breaker via a durable reset request.
// Consumption is idempotent: a request id seen before is a no-op and the
// method reports whether this call applied the reset.
func (b *CircuitBreaker) ManualReset(resets *ResetRepository, requestID, reason string) (bool, error) {
	applied, err := resets.Consume(requestID, reason)
	if err != nil || !applied {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateActive
	b.reason = ""
	b.haltedAt = nil
	b.consecutiveLosses = 0

	b.log.Info().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("Circuit breaker manually reset")
	return true, nil
}

// halt transitions to HALTED. Caller holds the lock.
func (b *CircuitBreaker) halt(reason HaltReason) {
	now := time.Now()
	b.state = StateHalted
	b.reason = reason
	b.haltedAt = &now
	b.log.Warn().Str("reason", string(reason)).Msg("Circuit breaker HALTED, new entries blocked")
}
