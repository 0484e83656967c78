package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/portfolio"
)

// handleSignals returns recently emitted signals, newest first.
// GET /api/signals?limit=50
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	recent, err := s.signals.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load recent signals")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recent == nil {
		recent = []domain.Signal{}
	}
	s.writeJSON(w, map[string]interface{}{"signals": recent, "count": len(recent)})
}

// portfolioView is the API shape of the portfolio snapshot.
type portfolioView struct {
	StartingCapital float64         `json:"starting_capital"`
	Cash            float64         `json:"cash"`
	CostBasis       float64         `json:"cost_basis"`
	OpenPositions   int             `json:"open_positions"`
	QueuedSignals   []domain.Signal `json:"queued_signals"`
	TradingDay      string          `json:"trading_day"`
	RedeploysToday  int             `json:"redeploys_today"`
	Breaker         interface{}     `json:"breaker"`
	UpdatedAt       string          `json:"updated_at"`
}

// handlePortfolio returns the portfolio snapshot summary.
// GET /api/portfolio
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	var view portfolioView
	err := s.store.View(func(state *portfolio.State) error {
		open := state.OpenPositions()
		var basis float64
		for _, p := range open {
			basis += p.CostBasis
		}
		view = portfolioView{
			StartingCapital: state.StartingCapital,
			Cash:            state.Cash,
			CostBasis:       basis,
			OpenPositions:   len(open),
			QueuedSignals:   state.QueuedSignals,
			TradingDay:      state.TradingDay,
			RedeploysToday:  state.RedeploysToday,
			Breaker:         state.Breaker,
			UpdatedAt:       state.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load portfolio snapshot")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if view.QueuedSignals == nil {
		view.QueuedSignals = []domain.Signal{}
	}
	s.writeJSON(w, view)
}

// handlePositions returns open positions, ticker ascending.
// GET /api/positions
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	var open []domain.Position
	err := s.store.View(func(state *portfolio.State) error {
		open = state.OpenPositions()
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load positions")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	sort.Slice(open, func(i, j int) bool { return open[i].Ticker < open[j].Ticker })
	if open == nil {
		open = []domain.Position{}
	}
	s.writeJSON(w, map[string]interface{}{"positions": open, "count": len(open)})
}

// handleClosedPositions returns the close history, newest first, together
// with the realized profit and loss of the current trading day.
// GET /api/positions/closed?limit=50
func (s *Server) handleClosedPositions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	history, err := s.closed.History(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load closed positions")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	var tradingDay string
	if err := s.store.View(func(state *portfolio.State) error {
		tradingDay = state.TradingDay
		return nil
	}); err != nil {
		s.log.Error().Err(err).Msg("Failed to load portfolio snapshot")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	var realizedToday float64
	if dayStart, err := time.Parse("2006-01-02", tradingDay); err == nil {
		realizedToday, err = s.closed.RealizedPnLSince(dayStart)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to sum realized pnl")
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	s.writeJSON(w, map[string]interface{}{
		"positions":          history,
		"count":              len(history),
		"realized_pnl_today": realizedToday,
	})
}

// handleAudit returns the audit trail tail, optionally filtered by type.
// GET /api/audit?limit=100&type=order_filled
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	filter := audit.EventType(r.URL.Query().Get("type"))

	records, err := s.trail.Tail(limit, filter)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read audit trail")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	s.writeJSON(w, map[string]interface{}{"events": records, "count": len(records)})
}

// handleRiskStatus returns the circuit breaker snapshot.
// GET /api/risk/status
func (s *Server) handleRiskStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.breaker.Snapshot())
}

// riskResetRequest is the manual breaker reset payload. The request id makes
// retries idempotent: replaying the same id never resets twice.
type riskResetRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// handleRiskReset manually reactivates a halted breaker.
// POST /api/risk/reset
func (s *Server) handleRiskReset(w http.ResponseWriter, r *http.Request) {
	var req riskResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid reset request: %w", err))
		return
	}
	if req.RequestID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("request_id is required"))
		return
	}

	applied, err := s.breaker.ManualReset(s.resets, req.RequestID, req.Reason)
	if err != nil {
		s.log.Error().Err(err).Str("request_id", req.RequestID).Msg("Manual breaker reset failed")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if applied {
		if err := s.store.Update(func(state *portfolio.State) error {
			state.Breaker = s.breaker.Snapshot()
			return nil
		}); err != nil {
			s.log.Error().Err(err).Msg("Failed to persist breaker state after reset")
		}
		if err := s.trail.Append(audit.EventBreakerReset, "", req.Reason, req); err != nil {
			s.log.Error().Err(err).Msg("Failed to audit breaker reset")
		}
		s.events.Emit(events.BreakerReset, "server", map[string]interface{}{
			"request_id": req.RequestID,
			"reason":     req.Reason,
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"applied":  applied,
		"snapshot": s.breaker.Snapshot(),
	})
}

// parseLimit reads the limit query parameter, bounded to keep responses
// reasonable.
func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
