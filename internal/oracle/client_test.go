package oracle

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
)

type flakyOracle struct {
	failures int
	calls    int
	facts    domain.TickerFacts
}

func (o *flakyOracle) Facts(ctx context.Context, ticker string) (domain.TickerFacts, error) {
	o.calls++
	if o.calls <= o.failures {
		return domain.TickerFacts{}, errors.New("connection reset")
	}
	return o.facts, nil
}

func setupCacheDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE quote_cache (
			ticker TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			cached_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)
	return db
}

func testOracleConfig() config.OracleConfig {
	return config.OracleConfig{MaxAttempts: 3, TimeoutSeconds: 30, CacheTTLMin: 15}
}

func newTestClient(source domain.PriceOracle, cache *QuoteCache) (*Client, *[]time.Duration) {
	c := NewClient(source, cache, testOracleConfig(), zerolog.Nop())
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func sampleFacts() domain.TickerFacts {
	return domain.TickerFacts{
		Ticker:         "ACME",
		Available:      true,
		CurrentPrice:   42.5,
		AvgDailyVolume: 100_000,
		MarketCap:      500_000_000,
		AsOf:           time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC),
	}
}

func TestFactsRetriesWithBackoff(t *testing.T) {
	source := &flakyOracle{failures: 2, facts: sampleFacts()}
	c, slept := newTestClient(source, nil)

	facts, err := c.Facts(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 42.5, facts.CurrentPrice)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestFactsExhaustsAttempts(t *testing.T) {
	source := &flakyOracle{failures: 10}
	c, slept := newTestClient(source, nil)

	_, err := c.Facts(context.Background(), "ACME")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 3, source.calls)
	assert.Len(t, *slept, 2)
}

func TestFactsServedFromCache(t *testing.T) {
	cache := NewQuoteCache(setupCacheDB(t), zerolog.Nop())
	source := &flakyOracle{facts: sampleFacts()}
	c, _ := newTestClient(source, cache)

	// First call goes to the source and populates the cache.
	_, err := c.Facts(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	// Second call is a cache hit, no source traffic.
	facts, err := c.Facts(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 42.5, facts.CurrentPrice)
	assert.True(t, facts.Available)
}

func TestUnavailableTickerNotCachedNotError(t *testing.T) {
	cache := NewQuoteCache(setupCacheDB(t), zerolog.Nop())
	source := &flakyOracle{facts: domain.TickerFacts{Ticker: "GONE", Available: false}}
	c, _ := newTestClient(source, cache)

	facts, err := c.Facts(context.Background(), "GONE")
	require.NoError(t, err)
	assert.False(t, facts.Available)

	// Unavailable snapshots are not cached; the next call re-asks the source.
	_, err = c.Facts(context.Background(), "GONE")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestCacheTTLExpiry(t *testing.T) {
	db := setupCacheDB(t)
	cache := NewQuoteCache(db, zerolog.Nop())
	require.NoError(t, cache.Put(sampleFacts()))

	// Age the entry past the TTL.
	_, err := db.Exec(`UPDATE quote_cache SET cached_at = ?`, time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)

	_, ok, err := cache.Get("ACME", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh Put replaces the stale row.
	require.NoError(t, cache.Put(sampleFacts()))
	facts, ok, err := cache.Get("ACME", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ACME", facts.Ticker)
}

func TestCachePrune(t *testing.T) {
	db := setupCacheDB(t)
	cache := NewQuoteCache(db, zerolog.Nop())
	require.NoError(t, cache.Put(sampleFacts()))

	old := sampleFacts()
	old.Ticker = "OMEGA"
	require.NoError(t, cache.Put(old))
	_, err := db.Exec(`UPDATE quote_cache SET cached_at = ? WHERE ticker = 'OMEGA'`,
		time.Now().Add(-48*time.Hour).Unix())
	require.NoError(t, err)

	pruned, err := cache.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
