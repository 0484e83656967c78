package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/database"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/oracle"
)

// quoteCacheMaxAge is how long pruned quote entries are kept. Quotes go stale
// within minutes, so anything a day old is dead weight.
const quoteCacheMaxAge = 24 * time.Hour

// backupRetentionDays bounds how far back the rotation keeps archives.
const backupRetentionDays = 30

// MaintenanceService runs the nightly housekeeping pass: prune the quote
// cache, checkpoint every database's WAL, verify integrity, and when backups
// are enabled, archive and rotate.
type MaintenanceService struct {
	databases []*database.DB
	cache     *oracle.QuoteCache
	backup    *BackupService // nil when backups are disabled
	trail     *audit.Trail
	events    *events.Manager
	log       zerolog.Logger
}

// NewMaintenanceService creates the nightly maintenance pass. backup may be
// nil to skip archiving.
func NewMaintenanceService(
	databases []*database.DB,
	cache *oracle.QuoteCache,
	backup *BackupService,
	trail *audit.Trail,
	ev *events.Manager,
	log zerolog.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		databases: databases,
		cache:     cache,
		backup:    backup,
		trail:     trail,
		events:    ev,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// Run executes one maintenance pass. Each step is independent: a failing
// checkpoint must not block the backup, so failures are logged and the pass
// continues. Only a failed backup of an enabled store is reported as an
// error.
func (s *MaintenanceService) Run(ctx context.Context) error {
	started := time.Now()

	if pruned, err := s.cache.Prune(quoteCacheMaxAge); err != nil {
		s.log.Error().Err(err).Msg("Quote cache prune failed")
	} else if pruned > 0 {
		s.log.Info().Int64("pruned", pruned).Msg("Quote cache pruned")
	}

	for _, db := range s.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		if err := db.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
		}
	}

	if s.backup != nil {
		if err := s.runBackup(ctx); err != nil {
			return err
		}
	}

	s.log.Info().Dur("elapsed", time.Since(started)).Msg("Maintenance pass completed")
	return nil
}

func (s *MaintenanceService) runBackup(ctx context.Context) error {
	archive, err := s.backup.CreateAndUpload(ctx)
	if err != nil {
		s.events.EmitError("maintenance", err, map[string]interface{}{"step": "backup"})
		return err
	}

	if err := s.trail.Append(audit.EventBackupCompleted, "", archive, nil); err != nil {
		s.log.Error().Err(err).Msg("Failed to audit backup")
	}
	s.events.Emit(events.BackupCompleted, "maintenance", map[string]interface{}{
		"archive": archive,
	})

	if _, err := s.backup.Rotate(ctx, backupRetentionDays); err != nil {
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
