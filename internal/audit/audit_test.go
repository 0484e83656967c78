package audit

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			ticker TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)
	return db
}

func TestAppendAndTail(t *testing.T) {
	trail := NewTrail(setupDB(t), zerolog.Nop())

	require.NoError(t, trail.Append(EventOrderSubmitted, "ACME", "limit buy 100 @ 42.50", map[string]any{
		"client_order_id": "abc-123",
		"quantity":        100,
	}))
	require.NoError(t, trail.Append(EventBreakerHalted, "", "daily loss limit exceeded", nil))

	records, err := trail.Tail(10, "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, EventBreakerHalted, records[0].Type)
	assert.Empty(t, records[0].Payload)
	assert.Equal(t, EventOrderSubmitted, records[1].Type)
	assert.Equal(t, "ACME", records[1].Ticker)
	assert.JSONEq(t, `{"client_order_id":"abc-123","quantity":100}`, string(records[1].Payload))
}

func TestTailFilterByType(t *testing.T) {
	trail := NewTrail(setupDB(t), zerolog.Nop())
	require.NoError(t, trail.Append(EventOrderSubmitted, "ACME", "buy", nil))
	require.NoError(t, trail.Append(EventOrderFilled, "ACME", "filled", nil))
	require.NoError(t, trail.Append(EventOrderSubmitted, "OMEGA", "buy", nil))

	records, err := trail.Tail(10, EventOrderSubmitted)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, EventOrderSubmitted, rec.Type)
	}
}
