package positions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

// Repository persists closed positions. Rows are append-only; a position's
// record never changes after the close is written.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a closed-position repository over the history database.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "closed_positions").Logger(),
	}
}

// RecordClose stores one closed position.
func (r *Repository) RecordClose(p domain.Position) error {
	if p.Status != domain.PositionClosed || p.ClosedAt == nil {
		return fmt.Errorf("position %s is not closed", p.Ticker)
	}

	realized := (p.ClosePrice - p.EntryPrice) * p.Shares
	query := `
		INSERT INTO closed_positions (
			ticker, tier, entry_price, entry_date, shares, cost_basis,
			close_price, closed_at, close_reason, realized_pnl, return_pct, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		p.Ticker, int(p.Tier), p.EntryPrice, p.EntryDate.Unix(), p.Shares, p.CostBasis,
		p.ClosePrice, p.ClosedAt.Unix(), string(p.CloseReason), realized, p.GainPct(p.ClosePrice),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record closed position: %w", err)
	}

	r.log.Info().
		Str("ticker", p.Ticker).
		Str("reason", string(p.CloseReason)).
		Float64("realized_pnl", realized).
		Msg("Closed position recorded")
	return nil
}

// RealizedPnLSince sums realized profit and loss from closes at or after the
// given time, typically the start of the trading day.
func (r *Repository) RealizedPnLSince(since time.Time) (float64, error) {
	var total sql.NullFloat64
	query := `SELECT SUM(realized_pnl) FROM closed_positions WHERE closed_at >= ?`
	if err := r.db.QueryRow(query, since.Unix()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Float64, nil
}

// ClosedRecord is one historical close for reporting.
type ClosedRecord struct {
	Ticker      string    `json:"ticker"`
	Tier        int       `json:"tier"`
	EntryPrice  float64   `json:"entry_price"`
	ClosePrice  float64   `json:"close_price"`
	ClosedAt    time.Time `json:"closed_at"`
	CloseReason string    `json:"close_reason"`
	RealizedPnL float64   `json:"realized_pnl"`
	ReturnPct   float64   `json:"return_pct"`
}

// History returns the most recent closed positions, newest first.
func (r *Repository) History(limit int) ([]ClosedRecord, error) {
	query := `
		SELECT ticker, tier, entry_price, close_price, closed_at, close_reason, realized_pnl, return_pct
		FROM closed_positions
		ORDER BY closed_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed positions: %w", err)
	}
	defer rows.Close()

	var records []ClosedRecord
	for rows.Next() {
		var rec ClosedRecord
		var closedAt int64
		if err := rows.Scan(&rec.Ticker, &rec.Tier, &rec.EntryPrice, &rec.ClosePrice,
			&closedAt, &rec.CloseReason, &rec.RealizedPnL, &rec.ReturnPct); err != nil {
			return nil, fmt.Errorf("failed to scan closed position: %w", err)
		}
		rec.ClosedAt = time.Unix(closedAt, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
