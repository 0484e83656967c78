// Package signals persists the append-only signal history: one row per
// emitted signal per day, with enough identity to suppress duplicate
// re-alerting of the same ticker inside the configured window.
package signals

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

// Repository stores emitted signals on the ledger database profile. Rows
// are never updated or deleted.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a signal history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "signal_history").Logger(),
	}
}

// Record appends one emitted signal to the history.
func (r *Repository) Record(sig domain.Signal) error {
	clusterJSON, err := json.Marshal(sig.Cluster)
	if err != nil {
		return fmt.Errorf("failed to marshal signal cluster: %w", err)
	}
	sources, err := json.Marshal(sig.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal signal sources: %w", err)
	}
	relaxations, err := json.Marshal(sig.Relaxations)
	if err != nil {
		return fmt.Errorf("failed to marshal signal relaxations: %w", err)
	}

	query := `
		INSERT INTO signal_history (
			ticker, signal_date, tier, rank_score, conviction_score,
			cluster_count, total_value, sources, action, rationale,
			relaxations, reference_price, cluster, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query,
		sig.Ticker, sig.Date.UTC().Format("2006-01-02"), int(sig.Tier), sig.RankScore,
		sig.Cluster.ConvictionScore, sig.Cluster.Count, sig.Cluster.TotalValue,
		string(sources), string(sig.Action), sig.Rationale,
		string(relaxations), sig.ReferencePrice, string(clusterJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}

	r.log.Info().
		Str("ticker", sig.Ticker).
		Str("tier", sig.Tier.String()).
		Float64("rank_score", sig.RankScore).
		Msg("Signal recorded")
	return nil
}

// AlertedSince reports whether the ticker already produced a signal on or
// after the cutoff date. Used to suppress re-alerting the same ticker while
// its cluster window keeps rolling forward.
func (r *Repository) AlertedSince(ticker string, cutoff time.Time) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM signal_history WHERE ticker = ? AND signal_date >= ?`
	err := r.db.QueryRow(query, ticker, cutoff.UTC().Format("2006-01-02")).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check signal history: %w", err)
	}
	return count > 0, nil
}

// Recent returns the latest signals, newest first, for the API.
func (r *Repository) Recent(limit int) ([]domain.Signal, error) {
	query := `
		SELECT ticker, signal_date, tier, rank_score, sources, action,
		       rationale, relaxations, reference_price, cluster
		FROM signal_history
		ORDER BY signal_date DESC, rank_score DESC, ticker ASC
		LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal history: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var date, sources, relaxations, clusterJSON, action string
		var tier int
		if err := rows.Scan(&sig.Ticker, &date, &tier, &sig.RankScore, &sources,
			&action, &sig.Rationale, &relaxations, &sig.ReferencePrice, &clusterJSON); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		sig.Tier = domain.Tier(tier)
		sig.Action = domain.SuggestedAction(action)
		if sig.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("failed to parse signal date %q: %w", date, err)
		}
		if err := json.Unmarshal([]byte(sources), &sig.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode signal sources: %w", err)
		}
		if err := json.Unmarshal([]byte(relaxations), &sig.Relaxations); err != nil {
			return nil, fmt.Errorf("failed to decode signal relaxations: %w", err)
		}
		if err := json.Unmarshal([]byte(clusterJSON), &sig.Cluster); err != nil {
			return nil, fmt.Errorf("failed to decode signal cluster: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
