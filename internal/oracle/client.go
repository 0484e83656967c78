// Package oracle wraps the price/fundamentals source with bounded retries,
// per-call timeouts and an msgpack-encoded quote cache. The wrapper never
// turns oracle unavailability into a panic or an unbounded wait: callers get
// either facts (possibly cached) or a tagged error and skip the ticker.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
)

// Client is the retrying, caching front of the price oracle.
type Client struct {
	source domain.PriceOracle
	cache  *QuoteCache
	cfg    config.OracleConfig
	log    zerolog.Logger

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewClient wraps a price oracle. cache may be nil to disable caching.
func NewClient(source domain.PriceOracle, cache *QuoteCache, cfg config.OracleConfig, log zerolog.Logger) *Client {
	return &Client{
		source: source,
		cache:  cache,
		cfg:    cfg,
		log:    log.With().Str("service", "oracle").Logger(),
		sleep:  time.Sleep,
	}
}

// Facts returns ticker facts, trying the cache first and then the source
// with up to MaxAttempts calls under exponential backoff (2s, 4s, 8s) and a
// hard per-call timeout. Delisted and unknown tickers are not errors; they
// come back with Available=false.
func (c *Client) Facts(ctx context.Context, ticker string) (domain.TickerFacts, error) {
	ttl := time.Duration(c.cfg.CacheTTLMin) * time.Minute
	if c.cache != nil {
		if facts, ok, err := c.cache.Get(ticker, ttl); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Quote cache read failed, falling through to source")
		} else if ok {
			return facts, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
		facts, err := c.source.Facts(callCtx, ticker)
		cancel()

		if err == nil {
			if c.cache != nil && facts.Available {
				if cacheErr := c.cache.Put(facts); cacheErr != nil {
					c.log.Warn().Err(cacheErr).Str("ticker", ticker).Msg("Quote cache write failed")
				}
			}
			return facts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.MaxAttempts {
			backoff := time.Duration(1<<attempt) * time.Second // 2s, 4s, 8s
			c.log.Warn().
				Err(err).
				Str("ticker", ticker).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Oracle call failed, retrying")
			c.sleep(backoff)
		}
	}

	return domain.TickerFacts{}, fmt.Errorf("oracle unavailable for %s after %d attempts: %w: %w",
		ticker, c.cfg.MaxAttempts, domain.ErrUnavailable, lastErr)
}
