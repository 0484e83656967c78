// Package portfolio holds the durable portfolio snapshot: cash, open
// positions, daily counters and circuit-breaker state. The snapshot is a
// single JSON document guarded by an advisory file lock and written
// atomically, so overlapping scheduled runs cannot lose updates.
package portfolio

import (
	"time"

	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/modules/risk"
)

// State is the portfolio snapshot. It is read-modify-written as a whole.
type State struct {
	StartingCapital float64                    `json:"starting_capital"`
	Cash            float64                    `json:"cash"`
	Positions       map[string]domain.Position `json:"positions"` // keyed by ticker
	QueuedSignals   []domain.Signal            `json:"queued_signals,omitempty"`
	TradingDay      string                     `json:"trading_day"` // YYYY-MM-DD
	RedeploysToday  int                        `json:"redeploys_today"`
	Breaker         risk.Snapshot              `json:"breaker"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// NewState returns a fresh state seeded with the starting capital.
func NewState(startingCapital float64) *State {
	return &State{
		StartingCapital: startingCapital,
		Cash:            startingCapital,
		Positions:       map[string]domain.Position{},
		Breaker:         risk.Snapshot{State: risk.StateActive},
		UpdatedAt:       time.Now().UTC(),
	}
}

// OpenPositions returns the open positions in no particular order.
func (s *State) OpenPositions() []domain.Position {
	var open []domain.Position
	for _, p := range s.Positions {
		if p.Status == domain.PositionOpen {
			open = append(open, p)
		}
	}
	return open
}

// DeployedValue marks open positions to the given prices; positions without
// a quote fall back to cost basis.
func (s *State) DeployedValue(prices map[string]float64) float64 {
	var total float64
	for _, p := range s.Positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		if price, ok := prices[p.Ticker]; ok && price > 0 {
			total += price * p.Shares
		} else {
			total += p.CostBasis
		}
	}
	return total
}

// TotalValue is cash plus the marked value of open positions.
func (s *State) TotalValue(prices map[string]float64) float64 {
	return s.Cash + s.DeployedValue(prices)
}

// RollDay resets the daily counters when the trading day changes. It
// reports whether a new day started.
func (s *State) RollDay(now time.Time) bool {
	day := now.UTC().Format("2006-01-02")
	if s.TradingDay == day {
		return false
	}
	s.TradingDay = day
	s.RedeploysToday = 0
	return true
}
