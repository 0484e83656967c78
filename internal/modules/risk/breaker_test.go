package risk

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

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		DailyLossLimitPct:    0.05,
		MaxConsecutiveLosses: 5,
		MaxDrawdownHaltPct:   0.15,
	}
}

func setupResetDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE risk_resets (
			request_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			requested_at INTEGER NOT NULL,
			consumed_at INTEGER
		)
	`)
	require.NoError(t, err)
	return db
}

func TestBreakerDailyLossHalts(t *testing.T) {
	b := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	b.StartDay(100_000)

	assert.Equal(t, StateActive, b.Observe(96_000)) // -4%, still fine
	assert.Equal(t, StateHalted, b.Observe(94_000)) // -6% trips the 5% limit
	assert.False(t, b.CanOpen())
	assert.Equal(t, HaltDailyLoss, b.Snapshot().Reason)
}

func TestBreakerConsecutiveLossesHalt(t *testing.T) {
	b := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	b.StartDay(100_000)

	for i := 0; i < 4; i++ {
		b.RecordClose(-100)
	}
	assert.True(t, b.CanOpen())

	// A win resets the streak.
	b.RecordClose(250)
	for i := 0; i < 4; i++ {
		b.RecordClose(-100)
	}
	assert.True(t, b.CanOpen())

	b.RecordClose(-100) // fifth in a row
	assert.False(t, b.CanOpen())
	assert.Equal(t, HaltConsecutiveLosses, b.Snapshot().Reason)
}

func TestBreakerDrawdownFromPeakHalts(t *testing.T) {
	b := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	b.StartDay(100_000)

	// Ride up to a peak, then give back more than 15%.
	assert.Equal(t, StateActive, b.Observe(120_000))
	assert.Equal(t, StateActive, b.Observe(115_000)) // -4.2% from peak
	assert.Equal(t, StateHalted, b.Observe(101_000)) // -15.8% from the 120k peak
	assert.Equal(t, HaltDrawdown, b.Snapshot().Reason)
}

func TestBreakerNewDayReactivates(t *testing.T) {
	b := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	b.StartDay(100_000)
	b.Observe(90_000)
	assert.False(t, b.CanOpen())

	b.StartDay(90_000)
	assert.True(t, b.CanOpen())
	snap := b.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveLosses)
	// The all-time peak survives the day boundary.
	assert.Equal(t, 100_000.0, snap.PeakValue)
}

func TestBreakerSnapshotRoundTrip(t *testing.T) {
	b := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	b.StartDay(100_000)
	b.RecordClose(-100)
	b.Observe(93_000)

	restored := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	restored.Restore(b.Snapshot())

	assert.False(t, restored.CanOpen())
	assert.Equal(t, b.Snapshot(), restored.Snapshot())
}

func TestManualResetIsIdempotent(t *testing.T) {
	db := setupResetDB(t)
	resets := NewResetRepository(db, zerolog.Nop())

	b := NewCircuitBreaker(testRiskConfig(), zerolog.Nop())
	b.StartDay(100_000)
	b.Observe(90_000)
	assert.False(t, b.CanOpen())

	applied, err := b.ManualReset(resets, "req-001", "operator verified data feed")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, b.CanOpen())

	// Replaying the same request must not apply again.
	b.Observe(80_000) // halt again
	assert.False(t, b.CanOpen())
	applied, err = b.ManualReset(resets, "req-001", "replayed")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, b.CanOpen())

	// A fresh request id works.
	applied, err = b.ManualReset(resets, "req-002", "second operator action")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, b.CanOpen())
}

func TestClientOrderIDDeterministic(t *testing.T) {
	date := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

	a := ClientOrderID("ACME", domain.SideBuy, date, "signal-2025-06-09")
	b := ClientOrderID("ACME", domain.SideBuy, date, "signal-2025-06-09")
	assert.Equal(t, a, b)

	// Any component of the identity changes the id.
	assert.NotEqual(t, a, ClientOrderID("ACME", domain.SideSell, date, "signal-2025-06-09"))
	assert.NotEqual(t, a, ClientOrderID("OMEGA", domain.SideBuy, date, "signal-2025-06-09"))
	assert.NotEqual(t, a, ClientOrderID("ACME", domain.SideBuy, date.AddDate(0, 0, 1), "signal-2025-06-09"))
	assert.NotEqual(t, a, ClientOrderID("ACME", domain.SideBuy, date, "redeploy"))

	// Intraday time does not change the identity, only the date does.
	assert.Equal(t, a, ClientOrderID("ACME", domain.SideBuy, date.Add(3*time.Hour), "signal-2025-06-09"))
}
