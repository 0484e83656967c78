package scoring

import (
	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/pkg/formulas"
)

// SectorProvider answers sector membership and peer return lookups.
// Implementations are external collaborators; an unknown ticker returns an
// empty peer set, which yields a zero adjustment.
type SectorProvider interface {
	// PeerReturns returns the recent period returns (fractions) of the
	// ticker's sector peers, excluding the ticker itself.
	PeerReturns(ticker string) ([]float64, error)
}

// sectorMomentumPeriod is the lookback, in trading days, for the
// rate-of-change comparison against sector peers.
const sectorMomentumPeriod = 20

// maxSectorAdjustment bounds the sector term's influence on the rank score.
const maxSectorAdjustment = 1.5

// SectorMomentum computes the optional sector-relative adjustment for the
// rank score. When disabled (nil provider) every adjustment is exactly 0.
type SectorMomentum struct {
	provider SectorProvider
	log      zerolog.Logger
}

// NewSectorMomentum creates the sector momentum service. Pass a nil provider
// to disable the adjustment entirely.
func NewSectorMomentum(provider SectorProvider, log zerolog.Logger) *SectorMomentum {
	return &SectorMomentum{
		provider: provider,
		log:      log.With().Str("stage", "sector_momentum").Logger(),
	}
}

// Adjustment returns the bounded sector-relative momentum term for a ticker
// given its trailing daily closes. The ticker's rate of change is scored as
// a z-score against its peers and clamped to [-1.5, +1.5]. Missing data
// contributes 0 rather than failing the pipeline.
func (s *SectorMomentum) Adjustment(ticker string, closes []float64) float64 {
	if s.provider == nil || len(closes) == 0 {
		return 0
	}

	peers, err := s.provider.PeerReturns(ticker)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("Peer return lookup failed, sector term is 0")
		return 0
	}
	if len(peers) < 2 {
		return 0
	}

	roc := formulas.RateOfChange(closes, sectorMomentumPeriod)
	z := formulas.ZScore(roc, peers)
	return formulas.Clamp(formulas.Round3(z*0.75), -maxSectorAdjustment, maxSectorAdjustment)
}
