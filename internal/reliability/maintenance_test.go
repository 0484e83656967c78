package reliability

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/database"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/oracle"
)

type maintenanceEnv struct {
	svc    *MaintenanceService
	store  *fakeObjectClient
	cache  *oracle.QuoteCache
	trail  *audit.Trail
	events *events.Manager
}

func newMaintenanceEnv(t *testing.T, withBackup bool) *maintenanceEnv {
	t.Helper()
	dataDir := t.TempDir()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })
	require.NoError(t, cacheDB.Migrate())

	auditDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "audit.db"),
		Profile: database.ProfileLedger,
		Name:    "audit",
	})
	require.NoError(t, err)
	t.Cleanup(func() { auditDB.Close() })
	require.NoError(t, auditDB.Migrate())

	env := &maintenanceEnv{
		store:  newFakeObjectClient(),
		cache:  oracle.NewQuoteCache(cacheDB.Conn(), zerolog.Nop()),
		trail:  audit.NewTrail(auditDB.Conn(), zerolog.Nop()),
		events: events.NewManager(zerolog.Nop()),
	}

	var backup *BackupService
	if withBackup {
		backup = NewBackupService(env.store, dataDir, zerolog.Nop())
	}
	env.svc = NewMaintenanceService(
		[]*database.DB{cacheDB, auditDB},
		env.cache, backup, env.trail, env.events, zerolog.Nop(),
	)
	return env
}

func TestMaintenancePrunesStaleQuotesAndBacksUp(t *testing.T) {
	env := newMaintenanceEnv(t, true)

	require.NoError(t, env.cache.Put(domain.TickerFacts{
		Ticker:       "ACME",
		Available:    true,
		CurrentPrice: 10,
	}))
	// A two-day-old entry is past the prune horizon.
	require.NoError(t, env.cache.Put(domain.TickerFacts{Ticker: "STALE"}))
	cacheDB := env.svc.databases[0]
	_, err := cacheDB.Conn().Exec(
		`UPDATE quote_cache SET cached_at = ? WHERE ticker = 'STALE'`,
		time.Now().Add(-48*time.Hour).Unix(),
	)
	require.NoError(t, err)

	ch, cancel := env.events.Subscribe(8)
	defer cancel()

	require.NoError(t, env.svc.Run(context.Background()))

	_, fresh, err := env.cache.Get("ACME", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)
	_, stale, err := env.cache.Get("STALE", 100*time.Hour)
	require.NoError(t, err)
	assert.False(t, stale)

	// One archive landed in the object store and was audited.
	assert.Len(t, env.store.objects, 1)
	records, err := env.trail.Tail(10, audit.EventBackupCompleted)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Detail, backupPrefix)

	select {
	case ev := <-ch:
		assert.Equal(t, events.BackupCompleted, ev.Type)
	default:
		t.Fatal("expected a backup completed event")
	}
}

func TestMaintenanceWithoutBackupStillRuns(t *testing.T) {
	env := newMaintenanceEnv(t, false)
	require.NoError(t, env.svc.Run(context.Background()))
	assert.Empty(t, env.store.objects)
}

func TestMaintenanceBackupFailureIsReported(t *testing.T) {
	env := newMaintenanceEnv(t, true)
	env.store.failNext = assert.AnError

	require.Error(t, env.svc.Run(context.Background()))

	records, err := env.trail.Tail(10, audit.EventBackupCompleted)
	require.NoError(t, err)
	assert.Empty(t, records)
}
