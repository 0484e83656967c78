package risk

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/database"
)

// ResetRepository durably records manual breaker reset requests. Requests
// are logged before consumption and each request id is consumable exactly
// once, so replayed requests are harmless no-ops.
type ResetRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewResetRepository creates a reset repository over the audit database.
func NewResetRepository(db *sql.DB, log zerolog.Logger) *ResetRepository {
	return &ResetRepository{
		db:  db,
		log: log.With().Str("repo", "risk_resets").Logger(),
	}
}

// Consume durably logs the reset request and marks it consumed. It returns
// true when this call performed the consumption and false when the request
// id was consumed before.
func (r *ResetRepository) Consume(requestID, reason string) (bool, error) {
	var applied bool
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		// Log the request first so it is durable even if consumption below
		// is interrupted; the retry will find and consume it.
		_, err := tx.Exec(`
			INSERT INTO risk_resets (request_id, reason, requested_at)
			VALUES (?, ?, ?)
			ON CONFLICT(request_id) DO NOTHING
		`, requestID, reason, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to log reset request: %w", err)
		}

		res, err := tx.Exec(`
			UPDATE risk_resets SET consumed_at = ?
			WHERE request_id = ? AND consumed_at IS NULL
		`, time.Now().Unix(), requestID)
		if err != nil {
			return fmt.Errorf("failed to consume reset request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read consumption result: %w", err)
		}
		applied = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if !applied {
		r.log.Debug().Str("request_id", requestID).Msg("Reset request already consumed, no-op")
	}
	return applied, nil
}
