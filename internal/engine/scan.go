// Package engine orchestrates the two scheduled entry points: the daily
// signal scan (ingest, dedupe, cluster, score, filter, tier, rank, emit,
// execute) and the intraday position monitor (stops, time exits, breaker,
// redeployment). One invocation processes one snapshot end to end; there is
// no intra-run concurrency, and overlapping runs serialize on the portfolio
// store's advisory lock.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/quality"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/scoring"
	"github.com/aristath/convictiond/internal/modules/signals"
	"github.com/aristath/convictiond/internal/modules/sizing"
	"github.com/aristath/convictiond/internal/modules/tiering"
	"github.com/aristath/convictiond/internal/pipeline"
	"github.com/aristath/convictiond/internal/portfolio"
)

// FactsProvider is the oracle surface the engine needs.
type FactsProvider interface {
	Facts(ctx context.Context, ticker string) (domain.TickerFacts, error)
}

// ScanService runs the daily end-to-end signal pipeline.
type ScanService struct {
	cfg config.Config

	txSource   domain.TransactionSource
	polSource  domain.PoliticianSource
	instSource domain.InstitutionalSource
	oracle     FactsProvider
	exec       *executor

	dedupe     *pipeline.Deduplicator
	clusterer  *pipeline.Clusterer
	conviction *scoring.ConvictionScorer
	sector     *scoring.SectorMomentum
	quality    *quality.Chain
	classifier *tiering.Classifier
	sizer      *sizing.Sizer

	store   *portfolio.Store
	history *signals.Repository
	breaker *risk.CircuitBreaker
	trail   *audit.Trail
	events  *events.Manager
	log     zerolog.Logger
}

// ScanDeps bundles the collaborators of the scan service.
type ScanDeps struct {
	Config     config.Config
	TxSource   domain.TransactionSource
	PolSource  domain.PoliticianSource
	InstSource domain.InstitutionalSource
	Oracle     FactsProvider
	Broker     domain.BrokerClient
	Dedupe     *pipeline.Deduplicator
	Clusterer  *pipeline.Clusterer
	Conviction *scoring.ConvictionScorer
	Sector     *scoring.SectorMomentum
	Quality    *quality.Chain
	Classifier *tiering.Classifier
	Sizer      *sizing.Sizer
	Store      *portfolio.Store
	History    *signals.Repository
	Breaker    *risk.CircuitBreaker
	Trail      *audit.Trail
	Events     *events.Manager
	Log        zerolog.Logger
}

// NewScanService wires the daily scan pipeline.
func NewScanService(d ScanDeps) *ScanService {
	return &ScanService{
		cfg:        d.Config,
		txSource:   d.TxSource,
		polSource:  d.PolSource,
		instSource: d.InstSource,
		oracle:     d.Oracle,
		exec: &executor{
			broker: d.Broker,
			trail:  d.Trail,
			events: d.Events,
			log:    d.Log.With().Str("service", "executor").Logger(),
		},
		dedupe:     d.Dedupe,
		clusterer:  d.Clusterer,
		conviction: d.Conviction,
		sector:     d.Sector,
		quality:    d.Quality,
		classifier: d.Classifier,
		sizer:      d.Sizer,
		store:      d.Store,
		history:    d.History,
		breaker:    d.Breaker,
		trail:      d.Trail,
		events:     d.Events,
		log:        d.Log.With().Str("service", "scan").Logger(),
	}
}

// Report summarizes one scan run.
type Report struct {
	Transactions      int
	DuplicatesRemoved int
	InvalidDropped    int
	Clusters          int
	Rejected          map[quality.ReasonCode]int
	Skipped           int // oracle unavailable or delisted
	Suppressed        int // re-alert window
	Signals           []domain.Signal
	Opened            int
	Queued            int
}

// Run executes the daily pipeline for the given trading day.
func (s *ScanService) Run(ctx context.Context, day time.Time) (*Report, error) {
	report := &Report{Rejected: map[quality.ReasonCode]int{}}

	from := day.AddDate(0, 0, -(s.cfg.Clustering.WindowDays + 3))
	txs, err := s.txSource.Transactions(ctx, from, day)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	report.Transactions = len(txs)

	deduped := s.dedupe.Run(txs)
	report.DuplicatesRemoved = deduped.DuplicatesRemoved
	report.InvalidDropped = deduped.InvalidDropped

	clusters := s.clusterer.Run(deduped.Transactions)
	report.Clusters = len(clusters)

	polByTicker, instByTicker, err := s.externalTrades(ctx, from, day)
	if err != nil {
		// External confirmations are additive; their absence degrades tiers,
		// never the run.
		s.log.Warn().Err(err).Msg("External confirmation sources unavailable, tiers degrade")
	}

	var emitted []domain.Signal
	insiderTickers := map[string]bool{}
	for _, cluster := range sortedClusters(clusters) {
		insiderTickers[cluster.Ticker] = true

		sig, outcome := s.evaluateCluster(ctx, cluster, polByTicker[cluster.Ticker], instByTicker[cluster.Ticker], day)
		switch outcome.kind {
		case outcomeSkipped:
			report.Skipped++
		case outcomeRejected:
			report.Rejected[outcome.reason]++
		case outcomeSuppressed:
			report.Suppressed++
		case outcomeEmitted:
			emitted = append(emitted, sig)
		}
	}

	// Standalone politician clusters for tickers with no insider signal.
	for _, sig := range s.standaloneSignals(ctx, polByTicker, insiderTickers, day) {
		emitted = append(emitted, sig)
	}

	scoring.SortSignals(emitted)
	report.Signals = emitted

	for _, sig := range emitted {
		if err := s.emit(sig); err != nil {
			return report, err
		}
	}

	opened, queued := s.execute(ctx, emitted, day)
	report.Opened = opened
	report.Queued = queued

	s.events.Emit(events.ScanCompleted, "engine", map[string]interface{}{
		"signals": len(emitted),
		"opened":  opened,
	})
	s.log.Info().
		Int("transactions", report.Transactions).
		Int("clusters", report.Clusters).
		Int("signals", len(emitted)).
		Int("opened", opened).
		Msg("Daily scan complete")
	return report, nil
}

type outcomeKind int

const (
	outcomeEmitted outcomeKind = iota
	outcomeSkipped
	outcomeRejected
	outcomeSuppressed
)

type clusterOutcome struct {
	kind   outcomeKind
	reason quality.ReasonCode
}

// evaluateCluster takes one cluster through facts, conviction, quality,
// tiering, ranking and the re-alert suppression.
func (s *ScanService) evaluateCluster(ctx context.Context, cluster domain.Cluster, pols []domain.ExternalTrade, inst []domain.ExternalTrade, day time.Time) (domain.Signal, clusterOutcome) {
	facts, err := s.oracle.Facts(ctx, cluster.Ticker)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", cluster.Ticker).Msg("Oracle unavailable, ticker skipped")
		return domain.Signal{}, clusterOutcome{kind: outcomeSkipped}
	}
	if !facts.Available {
		s.log.Debug().Str("ticker", cluster.Ticker).Msg("Ticker delisted or unknown, skipped")
		return domain.Signal{}, clusterOutcome{kind: outcomeSkipped}
	}

	cluster.ConvictionScore = s.conviction.Score(cluster)

	res := s.quality.Evaluate(cluster, facts, day)
	if !res.Accepted {
		return domain.Signal{}, clusterOutcome{kind: outcomeRejected, reason: res.Reason}
	}
	if len(res.Relaxations) > 0 {
		if err := s.trail.Append(audit.EventThresholdRelax, cluster.Ticker,
			fmt.Sprintf("accepted with relaxations: %v", res.Relaxations), res.Relaxations); err != nil {
			s.log.Error().Err(err).Msg("Failed to audit relaxation")
		}
	}

	tier, sources := s.classifier.Classify(cluster, tiering.Confirmations{
		PoliticianTrades:     pols,
		InstitutionalHolding: len(inst) > 0,
	})

	hist := s.conviction.AverageHistoricalScore(cluster)
	rank := scoring.RankScore(cluster, tier, scoring.RankInputs{
		HistoricalScore:  &hist,
		SectorAdjustment: s.sector.Adjustment(cluster.Ticker, facts.Closes),
	})

	suppressed, err := s.history.AlertedSince(cluster.Ticker, day.AddDate(0, 0, -s.cfg.Clustering.RealertDays))
	if err != nil {
		s.log.Error().Err(err).Str("ticker", cluster.Ticker).Msg("Signal history lookup failed")
	}
	if suppressed {
		return domain.Signal{}, clusterOutcome{kind: outcomeSuppressed}
	}

	action := domain.ActionBuy
	if tier == domain.Tier4 {
		action = domain.ActionWatch
	}

	return domain.Signal{
		Ticker:         cluster.Ticker,
		Date:           day,
		Cluster:        cluster,
		Tier:           tier,
		Sources:        sources,
		RankScore:      rank,
		Action:         action,
		Rationale:      rationale(cluster, tier, sources),
		Relaxations:    res.Relaxations,
		Advisories:     res.Advisories,
		ReferencePrice: facts.CurrentPrice,
	}, clusterOutcome{kind: outcomeEmitted}
}

// standaloneSignals builds tier-0 signals from politician clusters on
// tickers that produced no insider cluster.
func (s *ScanService) standaloneSignals(ctx context.Context, polByTicker map[string][]domain.ExternalTrade, insiderTickers map[string]bool, day time.Time) []domain.Signal {
	var out []domain.Signal
	for _, ticker := range sortedKeys(polByTicker) {
		if insiderTickers[ticker] {
			continue
		}
		res, ok := s.classifier.Standalone(ticker, polByTicker[ticker])
		if !ok {
			continue
		}

		facts, err := s.oracle.Facts(ctx, ticker)
		if err != nil || !facts.Available {
			continue
		}

		suppressed, err := s.history.AlertedSince(ticker, day.AddDate(0, 0, -s.cfg.Clustering.RealertDays))
		if err == nil && suppressed {
			continue
		}

		// The politician cluster is carried in cluster form so tier-0
		// signals rank through the same formula as everything else.
		cluster := domain.Cluster{
			Ticker:          ticker,
			Count:           res.Politicians,
			TotalValue:      res.TotalValue,
			ConvictionScore: res.Score,
		}
		out = append(out, domain.Signal{
			Ticker:         ticker,
			Date:           day,
			Cluster:        cluster,
			Tier:           domain.Tier0,
			Sources:        []domain.ConfirmationSource{domain.SourcePolitician},
			RankScore:      scoring.RankScore(cluster, domain.Tier0, scoring.RankInputs{}),
			Action:         domain.ActionBuy,
			Rationale:      fmt.Sprintf("%d politicians, score %.2f/10, no insider cluster", res.Politicians, res.Score),
			ReferencePrice: facts.CurrentPrice,
		})
	}
	return out
}

// emit records the signal durably and announces it.
func (s *ScanService) emit(sig domain.Signal) error {
	if err := s.history.Record(sig); err != nil {
		return err
	}
	if err := s.trail.Append(audit.EventSignalEmitted, sig.Ticker,
		fmt.Sprintf("%s rank %.2f action %s", sig.Tier, sig.RankScore, sig.Action), sig); err != nil {
		s.log.Error().Err(err).Msg("Failed to audit signal")
	}
	s.events.Emit(events.SignalEmitted, "engine", map[string]interface{}{
		"ticker": sig.Ticker,
		"tier":   sig.Tier.String(),
		"rank":   sig.RankScore,
	})
	return nil
}

// execute sizes and opens positions for BUY signals, best first. Signals
// that fail only on available capital are queued for intraday redeployment.
func (s *ScanService) execute(ctx context.Context, sigs []domain.Signal, day time.Time) (opened, queued int) {
	err := s.store.Update(func(state *portfolio.State) error {
		// The day roll comes before the breaker gate: a halt expires at the
		// start of the next trading day, and this scan may be the first
		// thing that runs on it.
		if state.RollDay(day) {
			s.breaker.StartDay(state.TotalValue(nil))
		}
		if !s.breaker.CanOpen() {
			s.log.Warn().Msg("Circuit breaker halted, no new entries")
			state.Breaker = s.breaker.Snapshot()
			return nil
		}

		for _, sig := range sigs {
			if sig.Action != domain.ActionBuy {
				continue
			}
			if _, exists := state.Positions[sig.Ticker]; exists {
				continue
			}

			view := sizing.PortfolioView{
				TotalValue:    state.TotalValue(nil),
				Cash:          state.Cash,
				DeployedValue: state.DeployedValue(nil),
				OpenPositions: len(state.OpenPositions()),
			}
			decision := s.sizer.Size(sig, view)
			if !decision.Accepted {
				if decision.Reason == sizing.RejectNoCapital {
					state.QueuedSignals = append(state.QueuedSignals, sig)
					queued++
				}
				continue
			}

			if s.exec.open(ctx, state, sig, decision, day, "entry") {
				opened++
			}
		}
		state.Breaker = s.breaker.Snapshot()
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Execution pass failed")
	}
	return opened, queued
}

// externalTrades fetches and groups both confirmation sources by ticker.
func (s *ScanService) externalTrades(ctx context.Context, from, to time.Time) (map[string][]domain.ExternalTrade, map[string][]domain.ExternalTrade, error) {
	pols := map[string][]domain.ExternalTrade{}
	inst := map[string][]domain.ExternalTrade{}

	if s.polSource != nil {
		trades, err := s.polSource.PoliticianTrades(ctx, from, to)
		if err != nil {
			return pols, inst, fmt.Errorf("politician source: %w", err)
		}
		for _, tr := range trades {
			pols[tr.Ticker] = append(pols[tr.Ticker], tr)
		}
	}
	if s.instSource != nil {
		trades, err := s.instSource.InstitutionalHoldings(ctx, from, to)
		if err != nil {
			return pols, inst, fmt.Errorf("institutional source: %w", err)
		}
		for _, tr := range trades {
			inst[tr.Ticker] = append(inst[tr.Ticker], tr)
		}
	}
	return pols, inst, nil
}

func rationale(cluster domain.Cluster, tier domain.Tier, sources []domain.ConfirmationSource) string {
	return fmt.Sprintf("%d insiders bought $%.0fk, %s, %d confirmation source(s)",
		cluster.Count, cluster.TotalValue/1000, tier, len(sources)-1)
}

func insiderNames(cluster domain.Cluster) []string {
	names := make([]string, 0, len(cluster.Insiders))
	for _, ins := range cluster.Insiders {
		names = append(names, ins.Name)
	}
	return names
}

func sortedClusters(clusters []domain.Cluster) []domain.Cluster {
	out := append([]domain.Cluster(nil), clusters...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func sortedKeys(m map[string][]domain.ExternalTrade) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
