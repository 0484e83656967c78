// Package pipeline implements the transaction ingestion stages: deduplication
// of amended filings and clustering of buy transactions into per-ticker
// conviction signals.
package pipeline

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

// DedupeResult is the output of one deduplication pass.
type DedupeResult struct {
	Transactions      []domain.Transaction
	DuplicatesRemoved int
	InvalidDropped    int
}

// Deduplicator collapses amended filings that re-report the same economic
// event. A duplicate shares the composite key (ticker, normalized filer,
// transaction date, rounded total value); records whose values differ by
// less than the tolerance are treated as partial amendments of one event,
// keeping the most recently filed version.
type Deduplicator struct {
	tolerance float64 // fraction, e.g. 0.01
	log       zerolog.Logger
}

// NewDeduplicator creates a deduplicator with the given partial-amendment
// value tolerance.
func NewDeduplicator(tolerance float64, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		tolerance: tolerance,
		log:       log.With().Str("stage", "dedupe").Logger(),
	}
}

// eventKey groups records that can only differ by amendment.
type eventKey struct {
	ticker string
	filer  string
	date   string
}

// Run removes duplicates from an ordered sequence of transactions. Survivors
// keep their input order; an amendment replaces the original in place.
// Malformed records never abort the batch - they are dropped and counted.
// Running the deduplicator on its own output removes nothing further.
func (d *Deduplicator) Run(txs []domain.Transaction) DedupeResult {
	result := DedupeResult{Transactions: make([]domain.Transaction, 0, len(txs))}

	// kept[k] holds indexes into result.Transactions for records sharing
	// the (ticker, filer, date) part of the composite key.
	kept := make(map[eventKey][]int)

	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			result.InvalidDropped++
			d.log.Debug().Err(err).Str("ticker", tx.Ticker).Msg("Dropping invalid transaction")
			continue
		}

		key := eventKey{
			ticker: tx.Ticker,
			filer:  domain.NormalizeName(tx.FilerName),
			date:   tx.TransactionDate.Format("2006-01-02"),
		}

		matched := false
		for _, idx := range kept[key] {
			prev := result.Transactions[idx]
			if !d.sameEvent(prev.Value(), tx.Value()) {
				continue
			}
			// Same economic event. Keep whichever was filed last.
			matched = true
			result.DuplicatesRemoved++
			if tx.FilingDate.After(prev.FilingDate) {
				result.Transactions[idx] = tx
			}
			break
		}
		if matched {
			continue
		}

		result.Transactions = append(result.Transactions, tx)
		kept[key] = append(kept[key], len(result.Transactions)-1)
	}

	if result.DuplicatesRemoved > 0 || result.InvalidDropped > 0 {
		d.log.Info().
			Int("input", len(txs)).
			Int("duplicates_removed", result.DuplicatesRemoved).
			Int("invalid_dropped", result.InvalidDropped).
			Msg("Deduplication completed")
	}

	return result
}

// sameEvent reports whether two reported values describe one economic event:
// either identical after rounding to whole dollars, or within the
// partial-amendment tolerance of each other.
func (d *Deduplicator) sameEvent(a, b float64) bool {
	if math.Round(a) == math.Round(b) {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger < d.tolerance
}
