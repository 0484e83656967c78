package positions

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
)

var entryDay = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

func openPosition(tier domain.Tier, entry float64) *domain.Position {
	stop, target := InitialStops(tier, entry)
	return &domain.Position{
		Ticker:          "ACME",
		Tier:            tier,
		Status:          domain.PositionOpen,
		EntryPrice:      entry,
		EntryDate:       entryDay,
		Shares:          100,
		CostBasis:       entry * 100,
		StopLossPrice:   stop,
		TakeProfitPrice: target,
		PeakPrice:       entry,
	}
}

func TestInitialStopsByTier(t *testing.T) {
	cases := []struct {
		tier       domain.Tier
		wantStop   float64
		wantTarget float64
	}{
		{domain.Tier1, 88.0, 125.0},
		{domain.Tier2, 90.0, 120.0},
		{domain.Tier3, 92.0, 115.0},
		{domain.Tier4, 94.0, 110.0},
		{domain.Tier0, 92.0, 115.0},
	}
	for _, tc := range cases {
		stop, target := InitialStops(tc.tier, 100.0)
		assert.InDelta(t, tc.wantStop, stop, 1e-9, tc.tier.String())
		assert.InDelta(t, tc.wantTarget, target, 1e-9, tc.tier.String())
	}
}

func TestStopLossCloses(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	p := openPosition(domain.Tier3, 100.0) // stop at 92

	d := m.Evaluate(p, 93.0, entryDay.AddDate(0, 0, 1))
	assert.False(t, d.ShouldClose)

	d = m.Evaluate(p, 91.5, entryDay.AddDate(0, 0, 2))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseStop, d.Reason)
}

func TestTakeProfitCloses(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	p := openPosition(domain.Tier4, 100.0) // target at 110

	d := m.Evaluate(p, 110.5, entryDay.AddDate(0, 0, 3))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseTarget, d.Reason)
}

func TestTrailingStopActivatesAndTightens(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	p := openPosition(domain.Tier1, 100.0) // stop at 88
	day := entryDay.AddDate(0, 0, 1)

	// +2%: below the activation gain, stop untouched.
	m.Evaluate(p, 102.0, day)
	assert.False(t, p.TrailingActive)
	assert.InDelta(t, 88.0, p.StopLossPrice, 1e-9)

	// +5%: trailing activates at 5% below the 105 peak.
	m.Evaluate(p, 105.0, day)
	assert.True(t, p.TrailingActive)
	assert.InDelta(t, 99.75, p.StopLossPrice, 1e-9)

	// Price retreat never loosens the stop.
	m.Evaluate(p, 101.0, day)
	assert.InDelta(t, 99.75, p.StopLossPrice, 1e-9)
	assert.InDelta(t, 105.0, p.PeakPrice, 1e-9)

	// +35% peak: the 7% tight trail takes over.
	d := m.Evaluate(p, 135.0, day)
	// Target (125) was hit first on the way up.
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseTarget, d.Reason)
	assert.InDelta(t, 135.0*0.93, p.StopLossPrice, 1e-9)
}

func TestTrailingStopMonotonicAcrossSchedule(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	p := openPosition(domain.Tier1, 100.0)
	p.TakeProfitPrice = 0 // disable the target to exercise the full schedule
	day := entryDay.AddDate(0, 0, 1)

	m.Evaluate(p, 110.0, day) // +10% peak, 5% trail: stop 104.5
	assert.InDelta(t, 104.5, p.StopLossPrice, 1e-9)

	// +21% peak moves the schedule to the 10% trail; 121*0.90 = 108.9 still
	// only moves the stop up, never down.
	m.Evaluate(p, 121.0, day)
	assert.InDelta(t, 108.9, p.StopLossPrice, 1e-9)

	// +32% peak: 7% trail, stop 122.76.
	m.Evaluate(p, 132.0, day)
	assert.InDelta(t, 132.0*0.93, p.StopLossPrice, 1e-9)

	// Falling back to the stop closes as a STOP.
	d := m.Evaluate(p, 122.0, day)
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseStop, d.Reason)
}

func TestTimeExits(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	// 21 days and losing: close.
	p := openPosition(domain.Tier1, 100.0)
	d := m.Evaluate(p, 98.0, entryDay.AddDate(0, 0, 22))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseTime, d.Reason)

	// 21 days and flat-positive: hold.
	p = openPosition(domain.Tier1, 100.0)
	d = m.Evaluate(p, 101.0, entryDay.AddDate(0, 0, 22))
	assert.False(t, d.ShouldClose)

	// 30 days with < 3% gain: close.
	p = openPosition(domain.Tier1, 100.0)
	d = m.Evaluate(p, 101.0, entryDay.AddDate(0, 0, 31))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseTime, d.Reason)

	// 45 days with < 15% gain: close.
	p = openPosition(domain.Tier1, 100.0)
	p.StopLossPrice = 50 // keep the trailing stop out of the way
	d = m.Evaluate(p, 110.0, entryDay.AddDate(0, 0, 46))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, domain.CloseTime, d.Reason)
}

func TestWinnersRunExemption(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	p := openPosition(domain.Tier1, 100.0)
	p.TakeProfitPrice = 0
	p.PeakPrice = 120.0
	p.StopLossPrice = 108.0 // 10% trail from the 120 peak

	// 60 days old at +18%: exempt from the time stop, keeps running.
	d := m.Evaluate(p, 118.0, entryDay.AddDate(0, 0, 60))
	assert.False(t, d.ShouldClose)
}

func TestRedeployGate(t *testing.T) {
	cfg := config.LifecycleConfig{
		RedeployMaxPerDay:    1,
		RedeployPriceBandPct: 0.03,
		RedeployMinMinutes:   30,
	}
	g := NewRedeployGate(cfg, zerolog.Nop())

	queued := domain.Signal{Ticker: "ACME", ReferencePrice: 100.0}
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	close := time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC)

	ok, _ := g.Allow(queued, 102.0, now, close, 0)
	assert.True(t, ok)

	// Price drifted past the band.
	ok, reason := g.Allow(queued, 104.0, now, close, 0)
	assert.False(t, ok)
	assert.Contains(t, reason, "drifted")

	// Too close to the bell.
	ok, reason = g.Allow(queued, 100.0, close.Add(-20*time.Minute), close, 0)
	assert.False(t, ok)
	assert.Contains(t, reason, "market close")

	// Daily budget used.
	ok, reason = g.Allow(queued, 100.0, now, close, 1)
	assert.False(t, ok)
	assert.Contains(t, reason, "budget")
}

func setupHistoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE closed_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			tier INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			entry_date INTEGER NOT NULL,
			shares REAL NOT NULL,
			cost_basis REAL NOT NULL,
			close_price REAL NOT NULL,
			closed_at INTEGER NOT NULL,
			close_reason TEXT NOT NULL,
			realized_pnl REAL NOT NULL,
			return_pct REAL NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)
	return db
}

func TestRepositoryRecordAndRealizedPnL(t *testing.T) {
	db := setupHistoryDB(t)
	repo := NewRepository(db, zerolog.Nop())

	closedAt := time.Date(2025, 6, 10, 16, 0, 0, 0, time.UTC)
	p := domain.Position{
		Ticker:      "ACME",
		Tier:        domain.Tier2,
		Status:      domain.PositionClosed,
		EntryPrice:  100.0,
		EntryDate:   entryDay,
		Shares:      50,
		CostBasis:   5000,
		ClosePrice:  110.0,
		ClosedAt:    &closedAt,
		CloseReason: domain.CloseTarget,
	}
	require.NoError(t, repo.RecordClose(p))

	loser := p
	loser.Ticker = "OMEGA"
	loser.ClosePrice = 95.0
	loser.CloseReason = domain.CloseStop
	require.NoError(t, repo.RecordClose(loser))

	pnl, err := repo.RealizedPnLSince(closedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 500.0-250.0, pnl, 1e-9)

	// Nothing closed after the cutoff.
	pnl, err = repo.RealizedPnLSince(closedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0.0, pnl)

	records, err := repo.History(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "OMEGA", records[0].Ticker) // newest first by insertion
	assert.InDelta(t, 0.10, records[1].ReturnPct, 1e-9)
}

func TestRepositoryRejectsOpenPosition(t *testing.T) {
	db := setupHistoryDB(t)
	repo := NewRepository(db, zerolog.Nop())

	err := repo.RecordClose(domain.Position{Ticker: "ACME", Status: domain.PositionOpen})
	assert.Error(t, err)
}
