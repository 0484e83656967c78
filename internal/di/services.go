package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/clients/alphavantage"
	"github.com/aristath/convictiond/internal/clients/disclosures"
	"github.com/aristath/convictiond/internal/clients/paperbroker"
	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/engine"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/quality"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/scoring"
	"github.com/aristath/convictiond/internal/modules/sizing"
	"github.com/aristath/convictiond/internal/modules/tiering"
	"github.com/aristath/convictiond/internal/oracle"
	"github.com/aristath/convictiond/internal/pipeline"
	"github.com/aristath/convictiond/internal/portfolio"
	"github.com/aristath/convictiond/internal/reconcile"
	"github.com/aristath/convictiond/internal/reliability"
)

// InitializeServices creates all clients, pipeline stages and services and
// stores them in the container.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.Events = events.NewManager(log)

	// Durable portfolio snapshot. Loading at startup surfaces a corrupt
	// snapshot before anything can trade from an empty book, and hands the
	// breaker its persisted state back.
	container.Store = portfolio.NewStore(
		filepath.Join(cfg.DataDir, "portfolio.json"),
		cfg.StartingCapital,
		log,
	)
	state, err := container.Store.Load()
	if err != nil {
		return fmt.Errorf("failed to load portfolio state: %w", err)
	}

	container.Breaker = risk.NewCircuitBreaker(cfg.Risk, log)
	container.Breaker.Restore(state.Breaker)

	// Clients. The paper broker is the only execution venue; live trading
	// is out of scope.
	container.Broker = paperbroker.New(log)
	container.Feed = disclosures.NewClient(cfg.Sources.DisclosureFeedURL, cfg.Sources.DisclosureAPIKey, log)

	priceSource := alphavantage.NewClient(cfg.Sources.AlphaVantageKey, log)
	container.Oracle = oracle.NewClient(priceSource, container.QuoteCache, cfg.Oracle, log)

	// Pipeline stages, in the order the scan runs them.
	container.Dedupe = pipeline.NewDeduplicator(cfg.Clustering.DedupeTolerance, log)
	container.Clusterer = pipeline.NewClusterer(cfg.Clustering.WindowDays, log)

	// Historical insider weighting only engages once enabled; a nil history
	// provider keeps every multiplier at the neutral 1.0.
	var history scoring.HistoryProvider
	if cfg.Clustering.HistoricalEnabled {
		history = container.OutcomeRepo
	}
	container.Conviction = scoring.NewConvictionScorer(history, cfg.Clustering.MinHistoryTrades, log)

	// Sector momentum needs peer returns from the feed; a nil provider
	// pins the adjustment at zero.
	var peers scoring.SectorProvider
	if cfg.Clustering.SectorEnabled {
		peers = container.Feed
	}
	container.Sector = scoring.NewSectorMomentum(peers, log)

	container.Quality = quality.NewChain(cfg.Quality, log)
	container.Classifier = tiering.NewClassifier(cfg.Clustering.PoliticianAllowList, log)
	container.Sizer = sizing.NewSizer(cfg.Sizing, log)
	container.Monitor = positions.NewMonitor(log)
	container.Gate = positions.NewRedeployGate(cfg.Lifecycle, log)

	container.ScanService = engine.NewScanService(engine.ScanDeps{
		Config:     *cfg,
		TxSource:   container.Feed,
		PolSource:  container.Feed,
		InstSource: container.Feed,
		Oracle:     container.Oracle,
		Broker:     container.Broker,
		Dedupe:     container.Dedupe,
		Clusterer:  container.Clusterer,
		Conviction: container.Conviction,
		Sector:     container.Sector,
		Quality:    container.Quality,
		Classifier: container.Classifier,
		Sizer:      container.Sizer,
		Store:      container.Store,
		History:    container.SignalRepo,
		Breaker:    container.Breaker,
		Trail:      container.Trail,
		Events:     container.Events,
		Log:        log,
	})

	container.MonitorService = engine.NewMonitorService(engine.MonitorDeps{
		Config:   *cfg,
		Oracle:   container.Oracle,
		Broker:   container.Broker,
		Monitor:  container.Monitor,
		Gate:     container.Gate,
		Sizer:    container.Sizer,
		Store:    container.Store,
		Closed:   container.ClosedRepo,
		Outcomes: container.OutcomeRepo,
		Breaker:  container.Breaker,
		Trail:    container.Trail,
		Events:   container.Events,
		Log:      log,
	})

	container.Reconciler = reconcile.NewService(container.Broker, container.Store, container.Trail, log)

	if cfg.Backup.Enabled {
		objectStore, err := reliability.NewObjectStore(cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup object store: %w", err)
		}
		container.Backup = reliability.NewBackupService(objectStore, cfg.DataDir, log)
	}

	container.Maintenance = reliability.NewMaintenanceService(
		container.Databases(),
		container.QuoteCache,
		container.Backup,
		container.Trail,
		container.Events,
		log,
	)

	log.Debug().Msg("Services initialized")
	return nil
}
