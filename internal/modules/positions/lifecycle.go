// Package positions manages the lifecycle of open holdings: tier-dependent
// stops, trailing-stop tightening, time-based exits and intraday capital
// redeployment, plus the durable history of closed positions.
package positions

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

// tierStopPcts are the initial stop-loss distances below entry. Wider stops
// for higher-conviction tiers: best ideas get room to work, weak ideas are
// cut quickly.
var tierStopPcts = map[domain.Tier]float64{
	domain.Tier1: 0.12,
	domain.Tier2: 0.10,
	domain.Tier3: 0.08,
	domain.Tier4: 0.06,
	domain.Tier0: 0.08,
}

// tierTargetPcts are the take-profit distances above entry.
var tierTargetPcts = map[domain.Tier]float64{
	domain.Tier1: 0.25,
	domain.Tier2: 0.20,
	domain.Tier3: 0.15,
	domain.Tier4: 0.10,
	domain.Tier0: 0.15,
}

// Trailing-stop schedule, keyed on the gain reached at the peak price.
// Milestones never revert once reached because they are evaluated against
// the monotonic peak.
const (
	trailActivateGain = 0.03
	trailWideGain     = 0.20
	trailTightGain    = 0.30

	trailInitialPct = 0.05
	trailWidePct    = 0.10
	trailTightPct   = 0.07
)

// Time-based exit schedule.
const (
	timeExitLosingDays = 21 // close when losing
	timeExitFlatDays   = 30 // close when gain < 3%
	timeExitStaleDays  = 45 // close when gain < 15%; bigger winners run
	timeExitFlatGain   = 0.03
	timeExitStaleGain  = 0.15
)

// ExitDecision is the monitor's verdict for one position at one price.
type ExitDecision struct {
	ShouldClose bool
	Reason      domain.CloseReason
	Detail      string
}

// Monitor evaluates open positions against the exit rules.
type Monitor struct {
	log zerolog.Logger
}

// NewMonitor creates a lifecycle monitor.
func NewMonitor(log zerolog.Logger) *Monitor {
	return &Monitor{log: log.With().Str("service", "lifecycle").Logger()}
}

// InitialStops returns the stop-loss and take-profit prices for a new
// position at the given entry price.
func InitialStops(tier domain.Tier, entryPrice float64) (stop, target float64) {
	return entryPrice * (1 - tierStopPcts[tier]), entryPrice * (1 + tierTargetPcts[tier])
}

// Evaluate advances a position's trailing state at the given price and
// decides whether it must close. The peak price and stop level only ever
// move up; a price retreat never loosens a stop.
func (m *Monitor) Evaluate(p *domain.Position, price float64, now time.Time) ExitDecision {
	if p.Status != domain.PositionOpen || price <= 0 {
		return ExitDecision{}
	}

	if price > p.PeakPrice {
		p.PeakPrice = price
	}
	m.tightenStop(p)

	if price <= p.StopLossPrice {
		return m.close(p, domain.CloseStop, price,
			fmt.Sprintf("price %.2f at or below stop %.2f", price, p.StopLossPrice))
	}
	if p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice {
		return m.close(p, domain.CloseTarget, price,
			fmt.Sprintf("price %.2f at or above target %.2f", price, p.TakeProfitPrice))
	}

	gain := p.GainPct(price)
	age := p.AgeDays(now)
	switch {
	case age >= timeExitStaleDays && gain < timeExitStaleGain:
		return m.close(p, domain.CloseTime, price,
			fmt.Sprintf("%dd old with %.1f%% gain, below %.0f%%", age, gain*100, timeExitStaleGain*100))
	case age >= timeExitStaleDays:
		// Winners run: past the stale age with a big gain, no time exit.
	case age >= timeExitFlatDays && gain < timeExitFlatGain:
		return m.close(p, domain.CloseTime, price,
			fmt.Sprintf("%dd old with %.1f%% gain, below %.0f%%", age, gain*100, timeExitFlatGain*100))
	case age >= timeExitLosingDays && gain < 0:
		return m.close(p, domain.CloseTime, price,
			fmt.Sprintf("%dd old and losing %.1f%%", age, -gain*100))
	}

	return ExitDecision{}
}

// tightenStop applies the trailing-stop schedule from the peak price.
func (m *Monitor) tightenStop(p *domain.Position) {
	peakGain := p.GainPct(p.PeakPrice)
	if peakGain < trailActivateGain {
		return
	}

	trailPct := trailInitialPct
	switch {
	case peakGain >= trailTightGain:
		trailPct = trailTightPct
	case peakGain >= trailWideGain:
		trailPct = trailWidePct
	}

	if !p.TrailingActive {
		p.TrailingActive = true
		m.log.Debug().
			Str("ticker", p.Ticker).
			Float64("peak", p.PeakPrice).
			Msg("Trailing stop activated")
	}

	if trailed := p.PeakPrice * (1 - trailPct); trailed > p.StopLossPrice {
		p.StopLossPrice = trailed
	}
}

func (m *Monitor) close(p *domain.Position, reason domain.CloseReason, price float64, detail string) ExitDecision {
	m.log.Info().
		Str("ticker", p.Ticker).
		Str("reason", string(reason)).
		Float64("price", price).
		Str("detail", detail).
		Msg("Position exit triggered")
	return ExitDecision{ShouldClose: true, Reason: reason, Detail: detail}
}
