package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/scoring"
	"github.com/aristath/convictiond/internal/modules/sizing"
	"github.com/aristath/convictiond/internal/portfolio"
)

// MonitorService is the intraday loop: it marks open positions to market,
// applies the exit rules, feeds realized results to the circuit breaker and
// the insider track record, and redeploys freed capital into queued signals
// when the gate allows.
type MonitorService struct {
	cfg config.Config

	oracle FactsProvider
	exec   *executor

	monitor *positions.Monitor
	gate    *positions.RedeployGate
	sizer   *sizing.Sizer

	store    *portfolio.Store
	closed   *positions.Repository
	outcomes *scoring.OutcomeRepository
	breaker  *risk.CircuitBreaker
	trail    *audit.Trail
	events   *events.Manager
	log      zerolog.Logger
}

// MonitorDeps bundles the collaborators of the monitor service.
type MonitorDeps struct {
	Config   config.Config
	Oracle   FactsProvider
	Broker   domain.BrokerClient
	Monitor  *positions.Monitor
	Gate     *positions.RedeployGate
	Sizer    *sizing.Sizer
	Store    *portfolio.Store
	Closed   *positions.Repository
	Outcomes *scoring.OutcomeRepository
	Breaker  *risk.CircuitBreaker
	Trail    *audit.Trail
	Events   *events.Manager
	Log      zerolog.Logger
}

// NewMonitorService wires the intraday position monitor.
func NewMonitorService(d MonitorDeps) *MonitorService {
	return &MonitorService{
		cfg:    d.Config,
		oracle: d.Oracle,
		exec: &executor{
			broker: d.Broker,
			trail:  d.Trail,
			events: d.Events,
			log:    d.Log.With().Str("service", "executor").Logger(),
		},
		monitor:  d.Monitor,
		gate:     d.Gate,
		sizer:    d.Sizer,
		store:    d.Store,
		closed:   d.Closed,
		outcomes: d.Outcomes,
		breaker:  d.Breaker,
		trail:    d.Trail,
		events:   d.Events,
		log:      d.Log.With().Str("service", "monitor").Logger(),
	}
}

// Run executes one monitoring pass at the given time.
func (s *MonitorService) Run(ctx context.Context, now time.Time) error {
	prices, err := s.markPrices(ctx)
	if err != nil {
		return err
	}

	return s.store.Update(func(state *portfolio.State) error {
		if state.RollDay(now) {
			s.breaker.StartDay(state.TotalValue(prices))
		}

		closedCount := 0
		for _, ticker := range sortedPositionTickers(state) {
			p := state.Positions[ticker]
			if p.Status != domain.PositionOpen {
				continue
			}
			price, ok := prices[ticker]
			if !ok {
				s.log.Warn().Str("ticker", ticker).Msg("No quote for open position, exit rules skipped")
				continue
			}

			decision := s.monitor.Evaluate(&p, price, now)
			state.Positions[ticker] = p // trailing state advanced even without an exit

			if decision.ShouldClose && s.closePosition(ctx, state, &p, price, now, decision) {
				state.Positions[ticker] = p
				closedCount++
			}
		}

		s.observeBreaker(state, prices)

		if closedCount > 0 {
			s.redeploy(ctx, state, prices, now)
		}

		state.Breaker = s.breaker.Snapshot()
		return nil
	})
}

// markPrices fetches quotes for every open position and queued signal. A
// ticker without a quote is left out; its position is skipped this pass.
func (s *MonitorService) markPrices(ctx context.Context) (map[string]float64, error) {
	var tickers []string
	err := s.store.View(func(state *portfolio.State) error {
		for _, p := range state.OpenPositions() {
			tickers = append(tickers, p.Ticker)
		}
		for _, sig := range state.QueuedSignals {
			tickers = append(tickers, sig.Ticker)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prices := map[string]float64{}
	for _, ticker := range tickers {
		if _, done := prices[ticker]; done {
			continue
		}
		facts, err := s.oracle.Facts(ctx, ticker)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Quote unavailable")
			continue
		}
		if facts.Available && facts.CurrentPrice > 0 {
			prices[ticker] = facts.CurrentPrice
		}
	}
	return prices, nil
}

// closePosition executes the exit and records the realized result everywhere
// it matters. Returns false when the sell did not fill; the position stays
// open and the next pass retries.
func (s *MonitorService) closePosition(ctx context.Context, state *portfolio.State, p *domain.Position, price float64, now time.Time, decision positions.ExitDecision) bool {
	res := s.exec.sell(ctx, *p, price, now, "exit-"+string(decision.Reason))
	if res == nil {
		return false
	}

	closedAt := now
	p.Status = domain.PositionClosed
	p.ClosedAt = &closedAt
	p.ClosePrice = res.FillPrice
	p.CloseReason = decision.Reason
	state.Cash += res.FillPrice * res.FillQuantity

	realized := (res.FillPrice - p.EntryPrice) * p.Shares
	s.breaker.RecordClose(realized)

	if err := s.closed.RecordClose(*p); err != nil {
		s.log.Error().Err(err).Str("ticker", p.Ticker).Msg("Failed to record closed position")
	}
	returnPct := p.GainPct(res.FillPrice)
	for _, insider := range p.Insiders {
		if err := s.outcomes.RecordOutcome(insider, p.Ticker, returnPct, now); err != nil {
			s.log.Error().Err(err).Str("insider", insider).Msg("Failed to record insider outcome")
		}
	}

	if err := s.trail.Append(audit.EventPositionClosed, p.Ticker,
		fmt.Sprintf("%s: %s, realized %.2f", decision.Reason, decision.Detail, realized), p); err != nil {
		s.log.Error().Err(err).Msg("Failed to audit close")
	}
	s.events.Emit(events.PositionClosed, "engine", map[string]interface{}{
		"ticker":   p.Ticker,
		"reason":   string(decision.Reason),
		"realized": realized,
	})
	return true
}

// observeBreaker feeds the marked portfolio value to the breaker and
// announces the halt transition once.
func (s *MonitorService) observeBreaker(state *portfolio.State, prices map[string]float64) {
	prev := state.Breaker.State
	cur := s.breaker.Observe(state.TotalValue(prices))
	if cur == risk.StateHalted && prev != risk.StateHalted {
		snap := s.breaker.Snapshot()
		if err := s.trail.Append(audit.EventBreakerHalted, "",
			fmt.Sprintf("circuit breaker halted: %s", snap.Reason), snap); err != nil {
			s.log.Error().Err(err).Msg("Failed to audit breaker halt")
		}
		s.events.Emit(events.BreakerTripped, "engine", map[string]interface{}{
			"reason": string(snap.Reason),
		})
	}
}

// redeploy tries to move capital freed by an intraday close into the best
// queued signal. At most one redeployment per pass; the daily budget is
// enforced by the gate.
func (s *MonitorService) redeploy(ctx context.Context, state *portfolio.State, prices map[string]float64, now time.Time) {
	if !s.breaker.CanOpen() || len(state.QueuedSignals) == 0 {
		return
	}
	marketClose, err := s.marketClose(now)
	if err != nil {
		s.log.Error().Err(err).Msg("Bad market close configuration, redeployment skipped")
		return
	}

	for i, sig := range state.QueuedSignals {
		if _, exists := state.Positions[sig.Ticker]; exists {
			continue
		}
		price, ok := prices[sig.Ticker]
		if !ok {
			continue
		}

		allowed, why := s.gate.Allow(sig, price, now, marketClose, state.RedeploysToday)
		if !allowed {
			s.log.Debug().Str("ticker", sig.Ticker).Str("reason", why).Msg("Redeployment blocked")
			continue
		}

		view := sizing.PortfolioView{
			TotalValue:    state.TotalValue(prices),
			Cash:          state.Cash,
			DeployedValue: state.DeployedValue(prices),
			OpenPositions: len(state.OpenPositions()),
		}
		decision := s.sizer.Size(sig, view)
		if !decision.Accepted {
			continue
		}

		// Orders fill at the live price, not the stale signal price.
		sig.ReferencePrice = price
		if s.exec.open(ctx, state, sig, decision, now, "redeploy") {
			state.QueuedSignals = append(state.QueuedSignals[:i], state.QueuedSignals[i+1:]...)
			state.RedeploysToday++
			s.events.Emit(events.CapitalRedeployed, "engine", map[string]interface{}{
				"ticker": sig.Ticker,
			})
			return
		}
	}
}

// marketClose composes today's close instant from the configured HH:MM.
func (s *MonitorService) marketClose(now time.Time) (time.Time, error) {
	hm, err := time.Parse("15:04", s.cfg.Lifecycle.MarketCloseUTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid MARKET_CLOSE_UTC %q: %w", s.cfg.Lifecycle.MarketCloseUTC, err)
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, time.UTC), nil
}

func sortedPositionTickers(state *portfolio.State) []string {
	tickers := make([]string, 0, len(state.Positions))
	for t := range state.Positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}
