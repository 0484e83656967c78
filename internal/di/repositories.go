package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/scoring"
	"github.com/aristath/convictiond/internal/modules/signals"
	"github.com/aristath/convictiond/internal/oracle"
)

// InitializeRepositories creates all repositories and stores them in the
// container.
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Signal history (needs signalsDB).
	container.SignalRepo = signals.NewRepository(container.SignalsDB.Conn(), log)

	// Audit trail and the manual breaker reset ledger (both on auditDB).
	container.Trail = audit.NewTrail(container.AuditDB.Conn(), log)
	container.ResetRepo = risk.NewResetRepository(container.AuditDB.Conn(), log)

	// Closed positions and resolved insider outcomes (both on historyDB).
	container.ClosedRepo = positions.NewRepository(container.HistoryDB.Conn(), log)
	container.OutcomeRepo = scoring.NewOutcomeRepository(container.HistoryDB.Conn(), log)

	// Oracle quote cache (needs cacheDB).
	container.QuoteCache = oracle.NewQuoteCache(container.CacheDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
