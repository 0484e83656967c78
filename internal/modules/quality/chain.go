// Package quality implements the quality filter chain that every cluster
// passes before ranking. Filters apply in a fixed order and short-circuit to
// a rejection carrying a machine-readable reason code; acceptances record
// which thresholds were relaxed for auditability. Rejections are normal
// classification outcomes, not errors.
package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/pkg/formulas"
)

// ReasonCode identifies which filter rejected a cluster.
type ReasonCode string

const (
	ReasonPriceFloor     ReasonCode = "price_floor"
	ReasonDrawdownGuard  ReasonCode = "drawdown_guard"
	ReasonGoPrivate      ReasonCode = "go_private"
	ReasonLiquidityFloor ReasonCode = "liquidity_floor"
	ReasonInsiderMinimum ReasonCode = "insider_minimum"
)

// Relaxation labels recorded on acceptance.
const (
	RelaxMegaCluster = "mega_cluster"
	RelaxHoliday     = "holiday"
)

// AdvisoryManualReview flags acceptances in the manual-review band of the
// go-private detector. Advisory only; never blocks.
const AdvisoryManualReview = "manual_review"

// Result is the tagged outcome of the filter chain.
type Result struct {
	Accepted    bool
	Reason      ReasonCode // set when rejected
	Detail      string     // human-readable amplification of the reason
	Relaxations []string   // thresholds relaxed during acceptance
	Advisories  []string   // non-blocking review flags
}

// institutionalTokens are name fragments that mark a purchasing entity as
// institutional rather than an individual insider. Matching is on whole
// tokens of the normalized name to limit substring false positives.
var institutionalTokens = map[string]bool{
	"LLC": true, "LP": true, "FUND": true, "FUNDS": true,
	"CAPITAL": true, "HOLDINGS": true, "PARTNERS": true,
	"TRUST": true, "MANAGEMENT": true, "ADVISORS": true,
	"GROUP": true, "INC": true, "CORP": true,
}

// Chain evaluates clusters against the configured thresholds.
type Chain struct {
	cfg config.QualityConfig
	log zerolog.Logger
}

// NewChain creates a quality filter chain.
func NewChain(cfg config.QualityConfig, log zerolog.Logger) *Chain {
	return &Chain{
		cfg: cfg,
		log: log.With().Str("stage", "quality").Logger(),
	}
}

// Evaluate runs the full chain in order: price floor, drawdown guard,
// go-private detector, liquidity floor, per-insider minimums. The
// mega-cluster exception bypasses the liquidity floor only; holiday windows
// relax the numeric thresholds of the last two steps by the configured
// fraction.
func (c *Chain) Evaluate(cluster domain.Cluster, facts domain.TickerFacts, now time.Time) Result {
	// 1. Price floor
	if facts.CurrentPrice < c.cfg.MinPrice {
		return c.reject(cluster, ReasonPriceFloor,
			fmt.Sprintf("price %.2f below floor %.2f", facts.CurrentPrice, c.cfg.MinPrice))
	}

	// 2. Drawdown guard
	decline := formulas.TrailingDecline(facts.Closes, c.cfg.DrawdownLookbackDays)
	if decline < c.cfg.MaxDrawdown {
		return c.reject(cluster, ReasonDrawdownGuard,
			fmt.Sprintf("trailing decline %.1f%% exceeds guard %.1f%%", decline*100, c.cfg.MaxDrawdown*100))
	}

	// 3. Go-private / M&A detector
	var advisories []string
	if rejected, detail := c.goPrivate(cluster, facts); rejected {
		return c.reject(cluster, ReasonGoPrivate, detail)
	} else if c.manualReviewBand(cluster, facts) {
		advisories = append(advisories, AdvisoryManualReview)
	}

	// Holiday windows relax the numeric thresholds of steps 4-5.
	factor := 1.0
	var relaxations []string
	if window := holidayWindow(now); window != "" {
		factor = 1.0 - c.cfg.SeasonalRelaxation
		relaxations = append(relaxations, RelaxHoliday)
		c.log.Debug().
			Str("ticker", cluster.Ticker).
			Str("window", window).
			Float64("factor", factor).
			Msg("Seasonal threshold relaxation active")
	}

	mega := c.megaCluster(cluster, factor)
	if mega {
		relaxations = append(relaxations, RelaxMegaCluster)
	}

	// 4. Liquidity floor (bypassed only by the mega-cluster exception)
	if !mega {
		floor := liquidityFloor(cluster.Count) * factor
		if facts.DollarVolume() < floor {
			return c.reject(cluster, ReasonLiquidityFloor,
				fmt.Sprintf("daily dollar volume %.0f below floor %.0f", facts.DollarVolume(), floor))
		}
	}

	// 5. Per-insider minimums, satisfied by either the cluster-size-scaled
	// thresholds or the mega-cluster exception.
	if !mega {
		if ok, detail := c.insiderMinimums(cluster, factor); !ok {
			return c.reject(cluster, ReasonInsiderMinimum, detail)
		}
	}

	return Result{
		Accepted:    true,
		Relaxations: relaxations,
		Advisories:  advisories,
	}
}

func (c *Chain) reject(cluster domain.Cluster, reason ReasonCode, detail string) Result {
	c.log.Debug().
		Str("ticker", cluster.Ticker).
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Cluster rejected")
	return Result{Accepted: false, Reason: reason, Detail: detail}
}

// goPrivate rejects purchases that look like acquisitions rather than
// conviction-driven open-market accumulation. Evaluated per insider, never
// against the cluster's combined value.
func (c *Chain) goPrivate(cluster domain.Cluster, facts domain.TickerFacts) (bool, string) {
	for _, ins := range cluster.Insiders {
		capFraction := 0.0
		if facts.MarketCap > 0 {
			capFraction = ins.TotalValue / facts.MarketCap
		}

		if facts.MarketCap > 0 && capFraction > c.cfg.GoPrivateCapFraction {
			return true, fmt.Sprintf("%s bought %.0f%% of market cap", ins.Name, capFraction*100)
		}
		if ins.TotalValue > c.cfg.GoPrivateAbsDollar && capFraction > c.cfg.GoPrivateCapPct {
			return true, fmt.Sprintf("%s bought $%.0fM at %.0f%% of cap", ins.Name, ins.TotalValue/1e6, capFraction*100)
		}
		if isInstitutionalEntity(ins.Name) &&
			ins.TotalValue > c.cfg.InstitutionalAbsDollar && capFraction > c.cfg.InstitutionalCapPct {
			return true, fmt.Sprintf("institutional entity %s bought $%.0fM at %.0f%% of cap", ins.Name, ins.TotalValue/1e6, capFraction*100)
		}
	}
	return false, ""
}

// manualReviewBand flags purchases below the rejection thresholds that still
// warrant a human look: 15-30% of cap with at least $20M, institutional
// entities at $10M and 10% of cap, or any single purchase over $100M.
func (c *Chain) manualReviewBand(cluster domain.Cluster, facts domain.TickerFacts) bool {
	for _, ins := range cluster.Insiders {
		capFraction := 0.0
		if facts.MarketCap > 0 {
			capFraction = ins.TotalValue / facts.MarketCap
		}

		if capFraction >= 0.15 && capFraction <= 0.30 && ins.TotalValue >= 20_000_000 {
			return true
		}
		if isInstitutionalEntity(ins.Name) && ins.TotalValue >= 10_000_000 && capFraction >= 0.10 {
			return true
		}
		if ins.TotalValue > 100_000_000 {
			return true
		}
	}
	return false
}

// megaCluster reports whether the mega-cluster exception applies: at least
// 3 insiders, $1M total and $300k average per insider (holiday-relaxed).
func (c *Chain) megaCluster(cluster domain.Cluster, factor float64) bool {
	if cluster.Count < 3 {
		return false
	}
	avg := cluster.TotalValue / float64(cluster.Count)
	return cluster.TotalValue >= 1_000_000*factor && avg >= 300_000*factor
}

// liquidityFloor returns the average-daily-dollar-volume minimum for the
// cluster size. Larger coordinated clusters justify accepting less liquid
// names.
func liquidityFloor(count int) float64 {
	switch {
	case count >= 7:
		return 100_000
	case count >= 4:
		return 150_000
	default:
		return 200_000
	}
}

// insiderMinimums applies the cluster-size-scaled per-insider thresholds.
func (c *Chain) insiderMinimums(cluster domain.Cluster, factor float64) (bool, string) {
	if cluster.Count == 0 {
		return false, "cluster has no insiders"
	}
	avg := cluster.TotalValue / float64(cluster.Count)

	var minAvg, minTotal float64
	switch {
	case cluster.Count >= 7:
		minAvg, minTotal = 30_000, 200_000
	case cluster.Count >= 4:
		minAvg, minTotal = 40_000, 150_000
	default:
		minAvg, minTotal = 50_000, 0
	}
	minAvg *= factor
	minTotal *= factor

	if avg < minAvg {
		return false, fmt.Sprintf("average purchase %.0f below per-insider minimum %.0f", avg, minAvg)
	}
	if minTotal > 0 && cluster.TotalValue < minTotal {
		return false, fmt.Sprintf("total %.0f below cluster minimum %.0f", cluster.TotalValue, minTotal)
	}
	return true, ""
}

// isInstitutionalEntity reports whether a normalized filer name matches the
// institutional-entity patterns. Token matching limits (but does not
// eliminate) substring false positives.
func isInstitutionalEntity(name string) bool {
	for _, token := range strings.Fields(domain.NormalizeName(name)) {
		if institutionalTokens[token] {
			return true
		}
	}
	return false
}
