package portfolio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/aristath/convictiond/internal/domain"
)

// conflictMarker appears when a merge or sync tool mangled the snapshot.
// A file containing it is corrupt even if it still parses.
var conflictMarker = []byte("<<<<<<< ")

// Store persists the portfolio snapshot to a single JSON file. Writers take
// an exclusive advisory lock for the whole read-modify-write, and every
// write goes through a temp file and rename so a crash never leaves a
// partial snapshot behind.
type Store struct {
	path            string
	startingCapital float64
	log             zerolog.Logger
}

// NewStore creates a store over the given snapshot path.
func NewStore(path string, startingCapital float64, log zerolog.Logger) *Store {
	return &Store{
		path:            path,
		startingCapital: startingCapital,
		log:             log.With().Str("repo", "portfolio_state").Logger(),
	}
}

// Load reads the current snapshot. A missing file yields a fresh state
// seeded with the starting capital. A corrupt file is backed up byte for
// byte under a timestamped name and the load fails with ErrStateCorrupt;
// the caller must treat that as fatal rather than trade from an empty book.
func (st *Store) Load() (*State, error) {
	raw, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		st.log.Info().
			Str("path", st.path).
			Float64("starting_capital", st.startingCapital).
			Msg("No portfolio snapshot found, starting fresh")
		return NewState(st.startingCapital), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio snapshot: %w", err)
	}

	var state State
	if jsonErr := json.Unmarshal(raw, &state); jsonErr != nil || bytes.Contains(raw, conflictMarker) {
		backup, backupErr := st.quarantine(raw)
		if backupErr != nil {
			return nil, fmt.Errorf("portfolio snapshot corrupt and backup failed: %v: %w", backupErr, domain.ErrStateCorrupt)
		}
		st.log.Error().
			Str("path", st.path).
			Str("backup", backup).
			Msg("Portfolio snapshot corrupt, backed up and refusing to run")
		return nil, fmt.Errorf("portfolio snapshot %s is corrupt, backed up to %s: %w", st.path, backup, domain.ErrStateCorrupt)
	}

	if state.Positions == nil {
		state.Positions = map[string]domain.Position{}
	}
	return &state, nil
}

// Save writes the snapshot atomically: marshal, write a temp file in the
// same directory, fsync, rename over the old snapshot.
func (st *Store) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio snapshot: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".portfolio-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, st.path); err != nil {
		return fmt.Errorf("failed to replace portfolio snapshot: %w", err)
	}
	return nil
}

// Update performs one locked read-modify-write cycle: take the exclusive
// lock, load, apply fn, save. Concurrent invocations from overlapping
// scheduled runs serialize on the lock instead of racing.
func (st *Store) Update(fn func(*State) error) error {
	unlock, err := st.lock()
	if err != nil {
		return err
	}
	defer unlock()

	state, err := st.Load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return st.Save(state)
}

// View runs fn against a locked read-only copy of the state.
func (st *Store) View(fn func(*State) error) error {
	unlock, err := st.lock()
	if err != nil {
		return err
	}
	defer unlock()

	state, err := st.Load()
	if err != nil {
		return err
	}
	return fn(state)
}

// lock takes a blocking exclusive advisory lock on a sidecar lock file and
// returns the unlock function.
func (st *Store) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	f, err := os.OpenFile(st.path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open portfolio lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock portfolio state: %w", err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// quarantine copies the corrupt snapshot bytes to a timestamped backup next
// to the original and returns the backup path.
func (st *Store) quarantine(raw []byte) (string, error) {
	backup := fmt.Sprintf("%s.corrupt.%s", st.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.WriteFile(backup, raw, 0644); err != nil {
		return "", err
	}
	return backup, nil
}
