// Package di wires the application together: databases, repositories,
// clients, pipeline stages and scheduled jobs. The Container is the single
// source of truth for all service instances.
package di

import (
	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/clients/disclosures"
	"github.com/aristath/convictiond/internal/database"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/engine"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/quality"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/scoring"
	"github.com/aristath/convictiond/internal/modules/signals"
	"github.com/aristath/convictiond/internal/modules/sizing"
	"github.com/aristath/convictiond/internal/modules/tiering"
	"github.com/aristath/convictiond/internal/oracle"
	"github.com/aristath/convictiond/internal/pipeline"
	"github.com/aristath/convictiond/internal/portfolio"
	"github.com/aristath/convictiond/internal/reconcile"
	"github.com/aristath/convictiond/internal/reliability"
	"github.com/aristath/convictiond/internal/scheduler"
)

// Container holds all application dependencies.
//
// Databases: four-database architecture, each SQLite with WAL mode and a
// profile-specific PRAGMA set (signals and audit are append-only ledgers,
// history holds resolved outcomes, cache is ephemeral).
//
// Everything below the databases is built in dependency order by Wire and
// never reconfigured afterwards.
type Container struct {
	// Databases
	SignalsDB *database.DB // emitted signal history (ledger profile)
	AuditDB   *database.DB // audit events and risk resets (ledger profile)
	HistoryDB *database.DB // closed positions and insider outcomes
	CacheDB   *database.DB // quote cache (rebuildable)

	// Repositories
	SignalRepo  *signals.Repository        // emitted signals, re-alert suppression
	ClosedRepo  *positions.Repository      // closed position history
	OutcomeRepo *scoring.OutcomeRepository // resolved insider outcomes
	ResetRepo   *risk.ResetRepository      // idempotent manual breaker resets
	Trail       *audit.Trail               // append-only audit trail
	QuoteCache  *oracle.QuoteCache         // oracle response cache

	// Clients
	Broker domain.BrokerClient // execution venue (paper)
	Feed   *disclosures.Client // insider / congress / 13F feed
	Oracle *oracle.Client      // cached, retried price oracle

	// State and risk
	Store   *portfolio.Store    // durable portfolio snapshot
	Breaker *risk.CircuitBreaker
	Events  *events.Manager

	// Pipeline stages
	Dedupe     *pipeline.Deduplicator
	Clusterer  *pipeline.Clusterer
	Conviction *scoring.ConvictionScorer
	Sector     *scoring.SectorMomentum
	Quality    *quality.Chain
	Classifier *tiering.Classifier
	Sizer      *sizing.Sizer
	Monitor    *positions.Monitor
	Gate       *positions.RedeployGate

	// Services
	ScanService    *engine.ScanService
	MonitorService *engine.MonitorService
	Reconciler     *reconcile.Service
	Backup         *reliability.BackupService     // nil when backups are disabled
	Maintenance    *reliability.MaintenanceService
	Scheduler      *scheduler.Scheduler
}

// Databases returns the open databases in a stable order, for health checks
// and maintenance.
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.SignalsDB, c.AuditDB, c.HistoryDB, c.CacheDB}
}

// Close releases every database connection. Safe to call on a partially
// initialized container.
func (c *Container) Close() {
	for _, db := range c.Databases() {
		if db != nil {
			db.Close()
		}
	}
}
