// Package sizing turns a ranked signal into a dollar position size, applying
// score-weighted interpolation, tier multipliers and portfolio-level caps.
package sizing

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/pkg/formulas"
)

// RejectReason identifies why a signal received no allocation.
type RejectReason string

const (
	RejectMaxPositions RejectReason = "max_positions"
	RejectExposureCap  RejectReason = "exposure_cap"
	RejectNoCapital    RejectReason = "no_capital"
)

// tierMultipliers scale the base allocation by confirmation strength. Higher
// conviction tiers take larger positions; the standalone politician tier
// sits between the two weakest insider tiers.
var tierMultipliers = map[domain.Tier]float64{
	domain.Tier1: 1.00,
	domain.Tier2: 0.75,
	domain.Tier3: 0.50,
	domain.Tier4: 0.25,
	domain.Tier0: 0.40,
}

// PortfolioView is the sizer's read-only view of the current portfolio.
type PortfolioView struct {
	TotalValue    float64 // cash plus market value of open positions
	Cash          float64
	DeployedValue float64 // market value of open positions
	OpenPositions int
}

// Decision is the sizer's output: an allocation or a tagged rejection.
type Decision struct {
	Accepted bool
	Dollars  float64
	BasePct  float64 // score-weighted percentage before the tier multiplier
	FinalPct float64 // percentage of portfolio value actually allocated
	Reason   RejectReason
	Detail   string
}

// Sizer computes position sizes from signals and portfolio state.
type Sizer struct {
	cfg config.SizingConfig
	log zerolog.Logger
}

// NewSizer creates a position sizer.
func NewSizer(cfg config.SizingConfig, log zerolog.Logger) *Sizer {
	return &Sizer{
		cfg: cfg,
		log: log.With().Str("stage", "sizing").Logger(),
	}
}

// Size computes the dollar allocation for a signal. The base percentage
// interpolates linearly between the min and max position percentages as the
// rank score ranges over the configured score band, clamped at both ends.
// The tier multiplier then scales it, the absolute per-position cap bounds
// it, and the portfolio caps may reject the signal outright.
func (s *Sizer) Size(sig domain.Signal, pf PortfolioView) Decision {
	if pf.OpenPositions >= s.cfg.MaxPositions {
		return s.reject(sig, RejectMaxPositions,
			fmt.Sprintf("%d open positions at limit %d", pf.OpenPositions, s.cfg.MaxPositions))
	}

	t := (sig.RankScore - s.cfg.MinScore) / (s.cfg.MaxScore - s.cfg.MinScore)
	basePct := formulas.Lerp(s.cfg.MinPositionPct, s.cfg.MaxPositionPct, t)

	finalPct := basePct * tierMultipliers[sig.Tier]
	if finalPct > s.cfg.AbsMaxPct {
		finalPct = s.cfg.AbsMaxPct
	}

	dollars := pf.TotalValue * finalPct
	if dollars <= 0 {
		return s.reject(sig, RejectNoCapital, "portfolio has no value to allocate")
	}

	if pf.TotalValue > 0 && (pf.DeployedValue+dollars)/pf.TotalValue > s.cfg.MaxTotalExposure {
		return s.reject(sig, RejectExposureCap,
			fmt.Sprintf("deployment %.0f%% would exceed cap %.0f%%",
				(pf.DeployedValue+dollars)/pf.TotalValue*100, s.cfg.MaxTotalExposure*100))
	}
	if dollars > pf.Cash {
		return s.reject(sig, RejectNoCapital,
			fmt.Sprintf("allocation %.2f exceeds available cash %.2f", dollars, pf.Cash))
	}

	s.log.Debug().
		Str("ticker", sig.Ticker).
		Str("tier", sig.Tier.String()).
		Float64("base_pct", basePct).
		Float64("final_pct", finalPct).
		Float64("dollars", dollars).
		Msg("Position sized")
	return Decision{
		Accepted: true,
		Dollars:  formulas.Round2(dollars),
		BasePct:  basePct,
		FinalPct: finalPct,
	}
}

func (s *Sizer) reject(sig domain.Signal, reason RejectReason, detail string) Decision {
	s.log.Debug().
		Str("ticker", sig.Ticker).
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Signal not sized")
	return Decision{Accepted: false, Reason: reason, Detail: detail}
}
