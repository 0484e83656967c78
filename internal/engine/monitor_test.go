package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/clients/paperbroker"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/scoring"
	"github.com/aristath/convictiond/internal/modules/sizing"
	"github.com/aristath/convictiond/internal/portfolio"
)

// monitorNow leaves five hours to the configured 20:00 UTC close.
var monitorNow = time.Date(2025, time.June, 10, 15, 0, 0, 0, time.UTC)

type monitorEnv struct {
	svc      *MonitorService
	store    *portfolio.Store
	trail    *audit.Trail
	breaker  *risk.CircuitBreaker
	oracle   *stubOracle
	broker   *paperbroker.Client
	closed   *positions.Repository
	outcomes *scoring.OutcomeRepository
}

func newMonitorEnv(t *testing.T) *monitorEnv {
	t.Helper()
	log := zerolog.Nop()
	cfg := engineConfig()
	db := setupEngineDB(t)

	env := &monitorEnv{
		store:    portfolio.NewStore(filepath.Join(t.TempDir(), "portfolio.json"), cfg.StartingCapital, log),
		trail:    audit.NewTrail(db, log),
		breaker:  risk.NewCircuitBreaker(cfg.Risk, log),
		oracle:   &stubOracle{facts: map[string]domain.TickerFacts{}},
		broker:   paperbroker.New(log),
		closed:   positions.NewRepository(db, log),
		outcomes: scoring.NewOutcomeRepository(db, log),
	}
	env.svc = NewMonitorService(MonitorDeps{
		Config:   cfg,
		Oracle:   env.oracle,
		Broker:   env.broker,
		Monitor:  positions.NewMonitor(log),
		Gate:     positions.NewRedeployGate(cfg.Lifecycle, log),
		Sizer:    sizing.NewSizer(cfg.Sizing, log),
		Store:    env.store,
		Closed:   env.closed,
		Outcomes: env.outcomes,
		Breaker:  env.breaker,
		Trail:    env.trail,
		Events:   events.NewManager(log),
		Log:      log,
	})
	return env
}

// seedHolding books the position at the broker and in the local snapshot so
// the exit order can fill against a real book.
func (env *monitorEnv) seedHolding(t *testing.T, p domain.Position, cash float64, snap risk.Snapshot) {
	t.Helper()
	res, err := env.broker.SubmitOrder(context.Background(), domain.OrderRequest{
		Ticker:        p.Ticker,
		Side:          domain.SideBuy,
		Quantity:      p.Shares,
		OrderType:     "LIMIT",
		LimitPrice:    p.EntryPrice,
		ClientOrderID: "seed-" + p.Ticker,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderFilled, res.Status)

	env.breaker.Restore(snap)
	require.NoError(t, env.store.Update(func(state *portfolio.State) error {
		state.TradingDay = monitorNow.UTC().Format("2006-01-02")
		state.Cash = cash
		state.Positions[p.Ticker] = p
		state.Breaker = snap
		return nil
	}))
}

func quoteOnly(ticker string, price float64) domain.TickerFacts {
	return domain.TickerFacts{Ticker: ticker, Available: true, CurrentPrice: price}
}

func openHolding(ticker string, entry float64, shares float64, daysHeld int) domain.Position {
	stop, target := positions.InitialStops(domain.Tier2, entry)
	return domain.Position{
		Ticker:          ticker,
		Tier:            domain.Tier2,
		Status:          domain.PositionOpen,
		EntryPrice:      entry,
		EntryDate:       monitorNow.AddDate(0, 0, -daysHeld),
		Shares:          shares,
		CostBasis:       entry * shares,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
		PeakPrice:       entry,
		Insiders:        []string{"JANE DOE"},
	}
}

func TestMonitorClosesOnStopAndRecordsOutcome(t *testing.T) {
	env := newMonitorEnv(t)
	p := openHolding("ACME", 10, 100, 3) // stop at 9.0 for tier2
	env.seedHolding(t, p, 9_000, risk.Snapshot{
		State:         risk.StateActive,
		DayStartValue: 10_000,
		PeakValue:     10_000,
	})
	env.oracle.facts["ACME"] = quoteOnly("ACME", 8.9)

	require.NoError(t, env.svc.Run(context.Background(), monitorNow))

	require.NoError(t, env.store.View(func(state *portfolio.State) error {
		closed := state.Positions["ACME"]
		assert.Equal(t, domain.PositionClosed, closed.Status)
		assert.Equal(t, domain.CloseStop, closed.CloseReason)
		assert.Equal(t, 8.9, closed.ClosePrice)
		require.NotNil(t, closed.ClosedAt)
		assert.InDelta(t, 9_000+8.9*100, state.Cash, 1e-9)
		assert.Equal(t, 1, state.Breaker.ConsecutiveLosses)
		return nil
	}))

	history, err := env.closed.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, -110.0, history[0].RealizedPnL, 1e-9)

	// The losing exit lands on the attributed insider's track record.
	score, count, err := env.outcomes.HistoricalScore("JANE DOE")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Less(t, score, 50.0)

	records, err := env.trail.Tail(10, audit.EventPositionClosed)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMonitorDailyLossHaltsBreaker(t *testing.T) {
	env := newMonitorEnv(t)
	p := openHolding("ACME", 10, 100, 3)
	env.seedHolding(t, p, 9_000, risk.Snapshot{
		State:         risk.StateActive,
		DayStartValue: 10_500,
		PeakValue:     10_500,
	})
	env.oracle.facts["ACME"] = quoteOnly("ACME", 8.9)

	require.NoError(t, env.svc.Run(context.Background(), monitorNow))

	require.NoError(t, env.store.View(func(state *portfolio.State) error {
		assert.Equal(t, risk.StateHalted, state.Breaker.State)
		assert.Equal(t, risk.HaltDailyLoss, state.Breaker.Reason)
		return nil
	}))
	assert.False(t, env.breaker.CanOpen())

	records, err := env.trail.Tail(10, audit.EventBreakerHalted)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMonitorTrailingStopAdvancesWithoutExit(t *testing.T) {
	env := newMonitorEnv(t)
	p := openHolding("ACME", 100, 10, 3)
	p.TakeProfitPrice = 0 // isolate the trailing behavior
	env.seedHolding(t, p, 9_000, risk.Snapshot{
		State:         risk.StateActive,
		DayStartValue: 10_000,
		PeakValue:     10_000,
	})
	env.oracle.facts["ACME"] = quoteOnly("ACME", 110)

	require.NoError(t, env.svc.Run(context.Background(), monitorNow))

	require.NoError(t, env.store.View(func(state *portfolio.State) error {
		pos := state.Positions["ACME"]
		assert.Equal(t, domain.PositionOpen, pos.Status)
		assert.True(t, pos.TrailingActive)
		assert.Equal(t, 110.0, pos.PeakPrice)
		assert.InDelta(t, 104.5, pos.StopLossPrice, 1e-9) // 110 * 0.95
		return nil
	}))
}

func TestMonitorRedeploysFreedCapitalIntoQueuedSignal(t *testing.T) {
	env := newMonitorEnv(t)
	p := openHolding("ACME", 10, 100, 3)
	env.seedHolding(t, p, 9_000, risk.Snapshot{
		State:         risk.StateActive,
		DayStartValue: 9_950,
		PeakValue:     10_000,
	})
	env.oracle.facts["ACME"] = quoteOnly("ACME", 8.9)
	env.oracle.facts["OMEGA"] = quoteOnly("OMEGA", 20.1)

	queued := domain.Signal{
		Ticker:         "OMEGA",
		Date:           monitorNow.AddDate(0, 0, -1),
		Tier:           domain.Tier2,
		RankScore:      10,
		Action:         domain.ActionBuy,
		ReferencePrice: 20.0, // 0.5% drift, inside the 3% band
	}
	require.NoError(t, env.store.Update(func(state *portfolio.State) error {
		state.QueuedSignals = []domain.Signal{queued}
		return nil
	}))

	require.NoError(t, env.svc.Run(context.Background(), monitorNow))

	require.NoError(t, env.store.View(func(state *portfolio.State) error {
		pos, ok := state.Positions["OMEGA"]
		require.True(t, ok, "queued signal should be redeployed after the close")
		assert.Equal(t, domain.PositionOpen, pos.Status)
		assert.Equal(t, 20.1, pos.EntryPrice)
		assert.Empty(t, state.QueuedSignals)
		assert.Equal(t, 1, state.RedeploysToday)
		return nil
	}))
}

func TestMonitorRedeployBlockedOutsidePriceBand(t *testing.T) {
	env := newMonitorEnv(t)
	p := openHolding("ACME", 10, 100, 3)
	env.seedHolding(t, p, 9_000, risk.Snapshot{
		State:         risk.StateActive,
		DayStartValue: 9_950,
		PeakValue:     10_000,
	})
	env.oracle.facts["ACME"] = quoteOnly("ACME", 8.9)
	env.oracle.facts["OMEGA"] = quoteOnly("OMEGA", 22.0) // 10% above the signal price

	require.NoError(t, env.store.Update(func(state *portfolio.State) error {
		state.QueuedSignals = []domain.Signal{{
			Ticker:         "OMEGA",
			Tier:           domain.Tier2,
			RankScore:      10,
			Action:         domain.ActionBuy,
			ReferencePrice: 20.0,
		}}
		return nil
	}))

	require.NoError(t, env.svc.Run(context.Background(), monitorNow))

	require.NoError(t, env.store.View(func(state *portfolio.State) error {
		_, ok := state.Positions["OMEGA"]
		assert.False(t, ok)
		require.Len(t, state.QueuedSignals, 1)
		assert.Zero(t, state.RedeploysToday)
		return nil
	}))
}

func TestMonitorSkipsPositionWithoutQuote(t *testing.T) {
	env := newMonitorEnv(t)
	p := openHolding("ACME", 10, 100, 3)
	env.seedHolding(t, p, 9_000, risk.Snapshot{
		State:         risk.StateActive,
		DayStartValue: 10_000,
		PeakValue:     10_000,
	})
	// No quote for ACME this pass.

	require.NoError(t, env.svc.Run(context.Background(), monitorNow))

	require.NoError(t, env.store.View(func(state *portfolio.State) error {
		pos := state.Positions["ACME"]
		assert.Equal(t, domain.PositionOpen, pos.Status)
		return nil
	}))
}
