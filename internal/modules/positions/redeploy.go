package positions

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
)

// RedeployGate bounds intraday capital redeployment: capital freed by an
// intraday close may enter a previously queued signal only while the chase
// risk stays small.
type RedeployGate struct {
	cfg config.LifecycleConfig
	log zerolog.Logger
}

// NewRedeployGate creates a redeployment gate.
func NewRedeployGate(cfg config.LifecycleConfig, log zerolog.Logger) *RedeployGate {
	return &RedeployGate{
		cfg: cfg,
		log: log.With().Str("service", "redeploy").Logger(),
	}
}

// Allow reports whether the queued signal may be redeployed into now. All
// three constraints must hold: the current price is within the band around
// the original signal price, enough time remains before market close, and
// the daily redeployment budget is not exhausted.
func (g *RedeployGate) Allow(queued domain.Signal, currentPrice float64, now, marketClose time.Time, redeploysToday int) (bool, string) {
	if redeploysToday >= g.cfg.RedeployMaxPerDay {
		return false, fmt.Sprintf("daily redeploy budget of %d used", g.cfg.RedeployMaxPerDay)
	}

	if remaining := marketClose.Sub(now); remaining < time.Duration(g.cfg.RedeployMinMinutes)*time.Minute {
		return false, fmt.Sprintf("only %.0f minutes to market close, need %d", remaining.Minutes(), g.cfg.RedeployMinMinutes)
	}

	if queued.ReferencePrice <= 0 {
		return false, "queued signal has no reference price"
	}
	drift := math.Abs(currentPrice-queued.ReferencePrice) / queued.ReferencePrice
	if drift > g.cfg.RedeployPriceBandPct {
		return false, fmt.Sprintf("price drifted %.1f%% from signal, band is %.1f%%", drift*100, g.cfg.RedeployPriceBandPct*100)
	}

	g.log.Info().
		Str("ticker", queued.Ticker).
		Float64("drift", drift).
		Msg("Redeployment allowed for queued signal")
	return true, ""
}
