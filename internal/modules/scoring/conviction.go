// Package scoring computes conviction and rank scores for insider clusters.
//
// The conviction score is the weighted sum of each insider's contribution:
// role weight times the log-compressed dollar value, optionally scaled by
// that insider's own historical track record.
package scoring

import (
	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/pkg/formulas"
)

// HistoryProvider answers insider track-record lookups. Implementations
// return the resolved-outcome count alongside the score so callers can apply
// the minimum-trade gate.
type HistoryProvider interface {
	// HistoricalScore returns the insider's 0-100 track-record score and the
	// number of resolved outcomes behind it.
	HistoricalScore(insider string) (score float64, trades int, err error)
}

// ConvictionScorer computes the per-cluster conviction score.
type ConvictionScorer struct {
	history   HistoryProvider // nil when historical weighting is disabled
	minTrades int
	log       zerolog.Logger
}

// NewConvictionScorer creates a scorer. Pass a nil history provider to
// disable historical performance weighting; every multiplier is then exactly
// 1.0 and the score reduces to the base role-weight formula.
func NewConvictionScorer(history HistoryProvider, minTrades int, log zerolog.Logger) *ConvictionScorer {
	return &ConvictionScorer{
		history:   history,
		minTrades: minTrades,
		log:       log.With().Str("stage", "conviction").Logger(),
	}
}

// Score computes the conviction score for a cluster and returns it. A
// cluster with zero insiders cannot exist by construction, but the guard
// stays: the score of an empty cluster is 0.
func (s *ConvictionScorer) Score(cluster domain.Cluster) float64 {
	if cluster.Count == 0 {
		return 0
	}

	var total float64
	for _, ins := range cluster.Insiders {
		contribution := domain.RoleWeight(ins.Role) * formulas.LogScale(ins.TotalValue)
		total += contribution * s.multiplier(ins.Name)
	}
	return formulas.Round3(total)
}

// AverageHistoricalScore returns the mean 0-100 track-record score across
// the cluster's insiders, using the neutral 50 for insiders below the
// minimum resolved-trade count. Returns 50 when history is disabled, so the
// rank aggregator's historical term contributes zero.
func (s *ConvictionScorer) AverageHistoricalScore(cluster domain.Cluster) float64 {
	if s.history == nil || cluster.Count == 0 {
		return 50
	}

	var sum float64
	for _, ins := range cluster.Insiders {
		sum += s.historicalScore(ins.Name)
	}
	return sum / float64(cluster.Count)
}

// multiplier derives the performance multiplier from an insider's track
// record: 0.5 + (score/100) * 1.5, clamped to [0.5, 2.0]. Insiders without
// enough resolved outcomes - and everyone, when history is disabled - get
// exactly 1.0 so the score stays backward compatible with the base formula.
func (s *ConvictionScorer) multiplier(insider string) float64 {
	if s.history == nil {
		return 1.0
	}
	score, trades, err := s.history.HistoricalScore(insider)
	if err != nil {
		s.log.Warn().Err(err).Str("insider", insider).Msg("History lookup failed, using neutral multiplier")
		return 1.0
	}
	if trades < s.minTrades {
		return 1.0
	}
	return formulas.Clamp(0.5+(score/100)*1.5, 0.5, 2.0)
}

// historicalScore returns the insider's raw 0-100 score with the neutral
// default applied below the minimum trade count.
func (s *ConvictionScorer) historicalScore(insider string) float64 {
	score, trades, err := s.history.HistoricalScore(insider)
	if err != nil || trades < s.minTrades {
		return 50
	}
	return score
}
