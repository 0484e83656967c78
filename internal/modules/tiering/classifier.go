// Package tiering assigns confirmation tiers to accepted signals by combining
// the insider cluster with independently observed politician trades and
// institutional 13F holdings for the same ticker and period.
package tiering

import (
	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/pkg/formulas"
)

// strongClusterInsiders is the cluster size at which an unconfirmed insider
// signal still rates tier 3 instead of the watch-list tier.
const strongClusterInsiders = 5

// strongConvictionScore is the alternative conviction bar for tier 3.
const strongConvictionScore = 25.0

// Confirmation thresholds. A politician cluster needs 2 distinct politicians
// to confirm an existing insider signal but 3 to stand alone; standalone
// signals carry no insider corroboration so they get the stricter bar.
const (
	confirmPoliticians    = 2
	standalonePoliticians = 3
)

// standaloneValueGate is the aggregate trade value that passes the standalone
// quality gate when the cluster is neither bipartisan nor allow-listed.
const standaloneValueGate = 150_000

// standaloneMinScore is the minimum normalized politician-cluster score
// (0-10) for a standalone signal.
const standaloneMinScore = 5.0

// Confirmations carries the external evidence gathered for one ticker.
type Confirmations struct {
	PoliticianTrades     []domain.ExternalTrade
	InstitutionalHolding bool
}

// Classifier maps clusters and external confirmations onto tiers.
type Classifier struct {
	allowList map[string]bool // normalized names of high-conviction politicians
	log       zerolog.Logger
}

// NewClassifier creates a tier classifier. allowList holds the tracked
// high-conviction politicians; names are normalized internally.
func NewClassifier(allowList []string, log zerolog.Logger) *Classifier {
	normalized := make(map[string]bool, len(allowList))
	for _, name := range allowList {
		normalized[domain.NormalizeName(name)] = true
	}
	return &Classifier{
		allowList: normalized,
		log:       log.With().Str("stage", "tiering").Logger(),
	}
}

// Classify assigns a tier to an insider cluster given its external
// confirmations. Two confirmed sources yield tier 1, one yields tier 2, none
// yields tier 3 when the cluster is strong on its own and tier 4 otherwise.
func (c *Classifier) Classify(cluster domain.Cluster, conf Confirmations) (domain.Tier, []domain.ConfirmationSource) {
	sources := []domain.ConfirmationSource{domain.SourceInsider}

	if len(distinctPoliticians(conf.PoliticianTrades)) >= confirmPoliticians {
		sources = append(sources, domain.SourcePolitician)
	}
	if conf.InstitutionalHolding {
		sources = append(sources, domain.SourceInstitutional)
	}

	var tier domain.Tier
	switch len(sources) - 1 {
	case 2:
		tier = domain.Tier1
	case 1:
		tier = domain.Tier2
	default:
		if cluster.Count >= strongClusterInsiders || cluster.ConvictionScore >= strongConvictionScore {
			tier = domain.Tier3
		} else {
			tier = domain.Tier4
		}
	}

	c.log.Debug().
		Str("ticker", cluster.Ticker).
		Str("tier", tier.String()).
		Int("confirmations", len(sources)-1).
		Msg("Cluster classified")
	return tier, sources
}

// StandaloneResult is a politician-only cluster that qualified for tier 0.
type StandaloneResult struct {
	Ticker      string
	Politicians int
	TotalValue  float64
	Score       float64 // normalized 0-10
	Bipartisan  bool
}

// Standalone evaluates a politician cluster with no insider signal. It
// returns a qualified tier-0 result, or ok=false when the cluster fails the
// size, gate or score requirements.
func (c *Classifier) Standalone(ticker string, trades []domain.ExternalTrade) (StandaloneResult, bool) {
	byName := distinctPoliticians(trades)
	if len(byName) < standalonePoliticians {
		return StandaloneResult{}, false
	}

	parties := map[string]bool{}
	highConviction := 0
	var total float64
	for name, agg := range byName {
		total += agg.amount
		if agg.party != "" {
			parties[agg.party] = true
		}
		if c.allowList[name] {
			highConviction++
		}
	}
	bipartisan := len(parties) >= 2

	if !bipartisan && highConviction == 0 && total <= standaloneValueGate {
		return StandaloneResult{}, false
	}

	raw := float64(min(len(byName), 5)) + valueScore(total) + float64(min(highConviction, 3))
	if bipartisan {
		raw += 2
	}
	// Raw maximum is 5 + 3 + 2 + 3 = 13.
	score := formulas.Round2(raw / 13.0 * 10.0)
	if score < standaloneMinScore {
		return StandaloneResult{}, false
	}

	c.log.Debug().
		Str("ticker", ticker).
		Int("politicians", len(byName)).
		Float64("score", score).
		Bool("bipartisan", bipartisan).
		Msg("Standalone politician cluster qualified")
	return StandaloneResult{
		Ticker:      ticker,
		Politicians: len(byName),
		TotalValue:  total,
		Score:       score,
		Bipartisan:  bipartisan,
	}, true
}

// valueScore buckets the cluster's aggregate trade value.
func valueScore(total float64) float64 {
	switch {
	case total >= 1_000_000:
		return 3
	case total >= 500_000:
		return 2
	case total >= 150_000:
		return 1
	default:
		return 0
	}
}

type politicianAgg struct {
	amount float64
	party  string
}

// distinctPoliticians groups trades by normalized entity name, summing
// amounts. The same politician filing twice counts once.
func distinctPoliticians(trades []domain.ExternalTrade) map[string]politicianAgg {
	byName := map[string]politicianAgg{}
	for _, tr := range trades {
		key := domain.NormalizeName(tr.Entity)
		if key == "" {
			continue
		}
		agg := byName[key]
		agg.amount += tr.Amount
		if agg.party == "" {
			agg.party = tr.Party
		}
		byName[key] = agg
	}
	return byName
}
