// Package audit provides the append-only audit trail: one structured record
// per event, written to the ledger database profile, never mutated or
// deleted.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventType classifies audit records.
type EventType string

const (
	EventSignalEmitted   EventType = "signal_emitted"
	EventOrderSubmitted  EventType = "order_submitted"
	EventOrderFilled     EventType = "order_filled"
	EventOrderRejected   EventType = "order_rejected"
	EventPositionClosed  EventType = "position_closed"
	EventBreakerHalted   EventType = "breaker_halted"
	EventBreakerReset    EventType = "breaker_reset"
	EventDiscrepancy     EventType = "reconciliation_discrepancy"
	EventThresholdRelax  EventType = "threshold_relaxation"
	EventBackupCompleted EventType = "backup_completed"
)

// Record is one audit trail entry.
type Record struct {
	ID        int64           `json:"id"`
	Type      EventType       `json:"type"`
	Ticker    string          `json:"ticker,omitempty"`
	Detail    string          `json:"detail"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Trail writes and reads the audit log.
type Trail struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTrail creates an audit trail over the audit database.
func NewTrail(db *sql.DB, log zerolog.Logger) *Trail {
	return &Trail{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// Append writes one event. payload may be nil; otherwise it is stored as
// JSON alongside the human-readable detail.
func (t *Trail) Append(eventType EventType, ticker, detail string, payload any) error {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (event_type, ticker, detail, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := t.db.Exec(query, string(eventType), ticker, detail, string(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	t.log.Debug().
		Str("event", string(eventType)).
		Str("ticker", ticker).
		Str("detail", detail).
		Msg("Audit event appended")
	return nil
}

// Tail returns the newest records, newest first, optionally filtered by
// event type (empty filter returns everything).
func (t *Trail) Tail(limit int, filter EventType) ([]Record, error) {
	query := `
		SELECT id, event_type, ticker, detail, payload, created_at
		FROM audit_events
		WHERE (? = '' OR event_type = ?)
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := t.db.Query(query, string(filter), string(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var payload string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Ticker, &rec.Detail, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if payload != "" {
			rec.Payload = json.RawMessage(payload)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
