package scoring

import (
	"sort"

	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/pkg/formulas"
)

// tierBonuses rewards confirmation strength in the final ordering. Tier 4
// carries no bonus so a bare watch-list signal ranks purely on its cluster.
var tierBonuses = map[domain.Tier]float64{
	domain.Tier1: 2.0,
	domain.Tier2: 1.0,
	domain.Tier3: 0.5,
	domain.Tier0: 0.5,
	domain.Tier4: 0.0,
}

// RankInputs carries the optional terms of the rank formula. Every field
// has a zero-contribution default so any subset may be absent: a nil
// performance multiplier means 1.0, a nil historical score means the neutral
// 50, pattern bonus and sector adjustment default to 0. Pointers rather than
// zero sentinels, because 0 is a legitimate worst-case value for both.
type RankInputs struct {
	PerformanceMultiplier *float64 // nil means absent (treated as 1.0)
	HistoricalScore       *float64 // nil means absent (treated as 50)
	PatternBonus          float64
	SectorAdjustment      float64
}

// RankScore combines cluster size, conviction, pattern, historical and
// sector terms with the tier bonus into one final ordering score:
//
//	count*2.0 + conviction*perf/10 + pattern*0.5 + (hist-50)*0.15 + sector + tier_bonus
//
// With every optional term absent and tier 4, this reduces exactly to
// count*2.0 + conviction/10.
func RankScore(cluster domain.Cluster, tier domain.Tier, in RankInputs) float64 {
	perf := 1.0
	if in.PerformanceMultiplier != nil {
		perf = *in.PerformanceMultiplier
	}
	hist := 50.0
	if in.HistoricalScore != nil {
		hist = *in.HistoricalScore
	}

	score := float64(cluster.Count)*2.0 +
		(cluster.ConvictionScore*perf)/10.0 +
		in.PatternBonus*0.5 +
		(hist-50.0)*0.15 +
		in.SectorAdjustment +
		tierBonuses[tier]

	return formulas.Round3(score)
}

// SortSignals orders signals for presentation: descending rank score, ties
// broken by descending total value, then ascending ticker. The ordering is
// fully deterministic so runs are reproducible.
func SortSignals(signals []domain.Signal) {
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].RankScore != signals[j].RankScore {
			return signals[i].RankScore > signals[j].RankScore
		}
		if signals[i].Cluster.TotalValue != signals[j].Cluster.TotalValue {
			return signals[i].Cluster.TotalValue > signals[j].Cluster.TotalValue
		}
		return signals[i].Ticker < signals[j].Ticker
	})
}
