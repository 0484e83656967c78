package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/sizing"
	"github.com/aristath/convictiond/internal/portfolio"
)

// executor submits entry orders and books the resulting positions. It is
// shared by the daily scan and the intraday redeployment path so both go
// through identical order bookkeeping.
type executor struct {
	broker domain.BrokerClient
	trail  *audit.Trail
	events *events.Manager
	log    zerolog.Logger
}

// open submits a limit buy for the signal and, on a fill, books the position
// into state with its initial stop and target. Returns false when the order
// failed or did not fill; state is unchanged in that case.
func (e *executor) open(ctx context.Context, state *portfolio.State, sig domain.Signal, decision sizing.Decision, day time.Time, intent string) bool {
	if sig.ReferencePrice <= 0 {
		e.log.Warn().Str("ticker", sig.Ticker).Msg("No usable reference price, skipping entry")
		return false
	}
	shares := float64(int(decision.Dollars / sig.ReferencePrice))
	if shares <= 0 {
		return false
	}

	req := domain.OrderRequest{
		Ticker:        sig.Ticker,
		Side:          domain.SideBuy,
		Quantity:      shares,
		OrderType:     "LIMIT",
		LimitPrice:    sig.ReferencePrice,
		ClientOrderID: risk.ClientOrderID(sig.Ticker, domain.SideBuy, day, intent),
	}

	res, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		e.log.Error().Err(err).Str("ticker", sig.Ticker).Msg("Entry order failed")
		if auditErr := e.trail.Append(audit.EventOrderRejected, sig.Ticker, err.Error(), req); auditErr != nil {
			e.log.Error().Err(auditErr).Msg("Failed to audit order rejection")
		}
		return false
	}
	if auditErr := e.trail.Append(audit.EventOrderSubmitted, sig.Ticker,
		fmt.Sprintf("limit buy %.0f @ %.2f", req.Quantity, req.LimitPrice), req); auditErr != nil {
		e.log.Error().Err(auditErr).Msg("Failed to audit order")
	}
	if res.Status != domain.OrderFilled {
		e.log.Warn().Str("ticker", sig.Ticker).Str("status", string(res.Status)).Msg("Entry order not filled")
		return false
	}

	stop, target := positions.InitialStops(sig.Tier, res.FillPrice)
	state.Positions[sig.Ticker] = domain.Position{
		Ticker:          sig.Ticker,
		Tier:            sig.Tier,
		Status:          domain.PositionOpen,
		EntryPrice:      res.FillPrice,
		EntryDate:       day,
		Shares:          res.FillQuantity,
		CostBasis:       res.FillPrice * res.FillQuantity,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
		PeakPrice:       res.FillPrice,
		ClientOrderID:   req.ClientOrderID,
		Insiders:        insiderNames(sig.Cluster),
	}
	state.Cash -= res.FillPrice * res.FillQuantity

	if auditErr := e.trail.Append(audit.EventOrderFilled, sig.Ticker,
		fmt.Sprintf("filled %.0f @ %.2f", res.FillQuantity, res.FillPrice), res); auditErr != nil {
		e.log.Error().Err(auditErr).Msg("Failed to audit fill")
	}
	e.events.Emit(events.PositionOpened, "engine", map[string]interface{}{
		"ticker": sig.Ticker,
		"shares": res.FillQuantity,
		"price":  res.FillPrice,
	})
	return true
}

// sell submits a limit sell at the current price for the whole position.
// Returns the fill result, or nil when the order failed or did not fill.
func (e *executor) sell(ctx context.Context, p domain.Position, price float64, day time.Time, intent string) *domain.OrderResult {
	req := domain.OrderRequest{
		Ticker:        p.Ticker,
		Side:          domain.SideSell,
		Quantity:      p.Shares,
		OrderType:     "LIMIT",
		LimitPrice:    price,
		ClientOrderID: risk.ClientOrderID(p.Ticker, domain.SideSell, day, intent),
	}

	res, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		e.log.Error().Err(err).Str("ticker", p.Ticker).Msg("Exit order failed")
		if auditErr := e.trail.Append(audit.EventOrderRejected, p.Ticker, err.Error(), req); auditErr != nil {
			e.log.Error().Err(auditErr).Msg("Failed to audit order rejection")
		}
		return nil
	}
	if auditErr := e.trail.Append(audit.EventOrderSubmitted, p.Ticker,
		fmt.Sprintf("limit sell %.0f @ %.2f", req.Quantity, req.LimitPrice), req); auditErr != nil {
		e.log.Error().Err(auditErr).Msg("Failed to audit order")
	}
	if res.Status != domain.OrderFilled {
		e.log.Warn().Str("ticker", p.Ticker).Str("status", string(res.Status)).Msg("Exit order not filled")
		return nil
	}
	return res
}
