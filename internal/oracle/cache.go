package oracle

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/convictiond/internal/domain"
)

// QuoteCache stores oracle snapshots in the cache database, msgpack-encoded.
// Entries are ephemeral; the cache profile runs without fsync and losing it
// only costs a re-fetch.
type QuoteCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQuoteCache creates a quote cache over the cache database.
func NewQuoteCache(db *sql.DB, log zerolog.Logger) *QuoteCache {
	return &QuoteCache{
		db:  db,
		log: log.With().Str("repo", "quote_cache").Logger(),
	}
}

// Put stores or replaces the cached snapshot for a ticker.
func (c *QuoteCache) Put(facts domain.TickerFacts) error {
	blob, err := msgpack.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to encode quote for cache: %w", err)
	}

	query := `
		INSERT INTO quote_cache (ticker, payload, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at
	`
	if _, err := c.db.Exec(query, facts.Ticker, blob, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to cache quote: %w", err)
	}
	return nil
}

// Get returns the cached snapshot when one exists and is younger than ttl.
func (c *QuoteCache) Get(ticker string, ttl time.Duration) (domain.TickerFacts, bool, error) {
	var blob []byte
	var cachedAt int64

	query := `SELECT payload, cached_at FROM quote_cache WHERE ticker = ?`
	err := c.db.QueryRow(query, ticker).Scan(&blob, &cachedAt)
	if err == sql.ErrNoRows {
		return domain.TickerFacts{}, false, nil
	}
	if err != nil {
		return domain.TickerFacts{}, false, fmt.Errorf("failed to read quote cache: %w", err)
	}

	if time.Since(time.Unix(cachedAt, 0)) > ttl {
		return domain.TickerFacts{}, false, nil
	}

	var facts domain.TickerFacts
	if err := msgpack.Unmarshal(blob, &facts); err != nil {
		// A bad blob is treated as a miss; the next Put overwrites it.
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Corrupt cache entry, treating as miss")
		return domain.TickerFacts{}, false, nil
	}
	return facts, true, nil
}

// Prune deletes entries older than the given age. Run from the nightly
// maintenance job.
func (c *QuoteCache) Prune(olderThan time.Duration) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM quote_cache WHERE cached_at < ?`, time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune quote cache: %w", err)
	}
	return res.RowsAffected()
}
