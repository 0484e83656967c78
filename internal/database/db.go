// Package database owns the four SQLite stores behind the daemon: signal
// history, the audit trail, closed-position history, and the quote cache.
// Each store opens under a durability profile matched to what losing it
// would cost.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo on the target box
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// DatabaseProfile selects the durability/speed trade-off a store opens with.
type DatabaseProfile string

const (
	// ProfileLedger is for the append-only stores that back real orders:
	// emitted signals and the audit trail. Every write is fsynced and the
	// file never shrinks.
	ProfileLedger DatabaseProfile = "ledger"

	// ProfileStandard is for position history: durable at checkpoints,
	// space reclaimed incrementally.
	ProfileStandard DatabaseProfile = "standard"

	// ProfileCache is for the quote cache. It can be rebuilt from the
	// market data vendor at any time, so fsync is off entirely.
	ProfileCache DatabaseProfile = "cache"
)

// Config describes one store to open.
type Config struct {
	Path    string
	Profile DatabaseProfile
	Name    string // store name; also selects the schema file in schemas/
}

// DB is one open store.
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// New opens the store, creating its directory if needed, and verifies the
// connection before returning.
func New(cfg Config) (*DB, error) {
	// file: URIs (in-memory stores in tests) bypass path handling.
	if !strings.HasPrefix(cfg.Path, "file:") {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path for %s: %w", cfg.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", cfg.Name, err)
		}
		cfg.Path = abs
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", dsn(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Name, err)
	}
	pool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

// dsn builds the connection string. WAL mode on every store; the rest of the
// PRAGMAs follow the profile.
func dsn(path string, profile DatabaseProfile) string {
	s := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		s += "&_pragma=synchronous(FULL)"
		s += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		s += "&_pragma=synchronous(OFF)"
		s += "&_pragma=auto_vacuum(FULL)"
		s += "&_pragma=temp_store(MEMORY)"
	default:
		s += "&_pragma=synchronous(NORMAL)"
		s += "&_pragma=auto_vacuum(INCREMENTAL)"
		s += "&_pragma=temp_store(MEMORY)"
	}

	s += "&_pragma=foreign_keys(1)"
	s += "&_pragma=wal_autocheckpoint(1000)"
	s += "&_pragma=cache_size(-64000)" // 64MB
	return s
}

// pool sizes the connection pool. The daemon is a single process whose
// writers are scheduler jobs and a handful of HTTP handlers, so the pool
// stays small and connections are kept for the life of the process.
func pool(conn *sql.DB, profile DatabaseProfile) {
	open, idle := 10, 4
	if profile == ProfileCache {
		open, idle = 4, 2
	}
	conn.SetMaxOpenConns(open)
	conn.SetMaxIdleConns(idle)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Migrate applies the store's embedded schema. All schema files are written
// with IF NOT EXISTS, so migration is idempotent.
func (db *DB) Migrate() error {
	content, err := schemaFS.ReadFile("schemas/" + db.name + "_schema.sql")
	if err != nil {
		return fmt.Errorf("no schema for store %q: %w", db.name, err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration of %s: %w", db.name, err)
	}
	if _, err := tx.Exec(string(content)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply schema for %s: %w", db.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema for %s: %w", db.name, err)
	}
	return nil
}

// Conn returns the underlying connection for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the store name.
func (db *DB) Name() string {
	return db.name
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Close closes the store.
func (db *DB) Close() error {
	return db.conn.Close()
}

// HealthCheck pings the store and runs a full integrity check. Expensive;
// the maintenance pass calls it nightly.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, result)
	}
	return nil
}

// QuickCheck pings the store. Cheap enough for the health endpoint.
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint. Mode defaults to TRUNCATE, which
// also resets the WAL file size.
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic. A panic inside fn is converted to an
// error, not re-raised.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()
	return fn(tx)
}
