package scoring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/pkg/formulas"
)

// OutcomeRepository persists resolved insider outcomes and serves as the
// HistoryProvider for the conviction scorer. One row is recorded per insider
// per closed position; rows are never updated or deleted.
type OutcomeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOutcomeRepository creates an outcome repository over the history database.
func NewOutcomeRepository(db *sql.DB, log zerolog.Logger) *OutcomeRepository {
	return &OutcomeRepository{
		db:  db,
		log: log.With().Str("repo", "insider_outcomes").Logger(),
	}
}

// RecordOutcome stores one resolved outcome: the return fraction realized by
// a position attributed to the insider.
func (r *OutcomeRepository) RecordOutcome(insider, ticker string, returnPct float64, closedAt time.Time) error {
	query := `
		INSERT INTO insider_outcomes (insider, ticker, return_pct, closed_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, insider, ticker, returnPct, closedAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record insider outcome: %w", err)
	}

	r.log.Debug().
		Str("insider", insider).
		Str("ticker", ticker).
		Float64("return_pct", returnPct).
		Msg("Insider outcome recorded")

	return nil
}

// HistoricalScore maps the insider's mean realized return onto a 0-100
// scale centered at the neutral 50: 50 + mean_return * 250, clamped. A mean
// return of +20% saturates at 100; -20% saturates at 0.
func (r *OutcomeRepository) HistoricalScore(insider string) (float64, int, error) {
	var mean sql.NullFloat64
	var count int

	query := `SELECT AVG(return_pct), COUNT(*) FROM insider_outcomes WHERE insider = ?`
	if err := r.db.QueryRow(query, insider).Scan(&mean, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to query insider outcomes: %w", err)
	}

	if count == 0 || !mean.Valid {
		return 50, 0, nil
	}
	return formulas.Clamp(50+mean.Float64*250, 0, 100), count, nil
}
