// Package reconcile periodically compares local portfolio state against the
// execution venue's authoritative book. It is strictly read-only on both
// sides: discrepancies are reported and audited, never auto-corrected,
// because a silent correction would hide whichever side is actually broken.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/domain"
	"github.com/aristath/convictiond/internal/portfolio"
)

// quantityTolerance absorbs fractional-share rounding between the two books.
const quantityTolerance = 1e-6

// Kind classifies a discrepancy.
type Kind string

const (
	KindMissingAtBroker Kind = "missing_at_broker"
	KindMissingLocally  Kind = "missing_locally"
	KindQuantityDrift   Kind = "quantity_mismatch"
)

// Discrepancy is one disagreement between the local and venue books.
type Discrepancy struct {
	Ticker    string  `json:"ticker"`
	Kind      Kind    `json:"kind"`
	LocalQty  float64 `json:"local_qty"`
	BrokerQty float64 `json:"broker_qty"`
	Detail    string  `json:"detail"`
}

// Service runs the reconciliation pass.
type Service struct {
	broker domain.BrokerClient
	store  *portfolio.Store
	trail  *audit.Trail
	log    zerolog.Logger
}

// NewService creates a reconciliation service.
func NewService(broker domain.BrokerClient, store *portfolio.Store, trail *audit.Trail, log zerolog.Logger) *Service {
	return &Service{
		broker: broker,
		store:  store,
		trail:  trail,
		log:    log.With().Str("service", "reconcile").Logger(),
	}
}

// Run compares both books and returns the discrepancies found. Each
// discrepancy is appended to the audit trail for the human on call.
func (s *Service) Run(ctx context.Context) ([]Discrepancy, error) {
	brokerPositions, err := s.broker.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker positions: %w", err)
	}

	var local []domain.Position
	if err := s.store.View(func(state *portfolio.State) error {
		local = state.OpenPositions()
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read local positions: %w", err)
	}

	discrepancies := diff(local, brokerPositions)

	for _, d := range discrepancies {
		s.log.Warn().
			Str("ticker", d.Ticker).
			Str("kind", string(d.Kind)).
			Float64("local_qty", d.LocalQty).
			Float64("broker_qty", d.BrokerQty).
			Msg("Reconciliation discrepancy")
		if s.trail != nil {
			if auditErr := s.trail.Append(audit.EventDiscrepancy, d.Ticker, d.Detail, d); auditErr != nil {
				s.log.Error().Err(auditErr).Msg("Failed to audit discrepancy")
			}
		}
	}

	s.log.Info().
		Int("local", len(local)).
		Int("broker", len(brokerPositions)).
		Int("discrepancies", len(discrepancies)).
		Msg("Reconciliation pass complete")
	return discrepancies, nil
}

// diff pairs the two books by ticker and reports every disagreement, in
// deterministic order by ticker within each side's iteration. Both inputs
// are sorted first: the local book comes out of map iteration and the venue
// order is not ours to rely on.
func diff(local []domain.Position, broker []domain.BrokerPosition) []Discrepancy {
	local = append([]domain.Position(nil), local...)
	sort.Slice(local, func(i, j int) bool { return local[i].Ticker < local[j].Ticker })
	broker = append([]domain.BrokerPosition(nil), broker...)
	sort.Slice(broker, func(i, j int) bool { return broker[i].Ticker < broker[j].Ticker })

	brokerByTicker := make(map[string]domain.BrokerPosition, len(broker))
	for _, bp := range broker {
		brokerByTicker[bp.Ticker] = bp
	}

	var out []Discrepancy
	seen := map[string]bool{}
	for _, lp := range local {
		seen[lp.Ticker] = true
		bp, ok := brokerByTicker[lp.Ticker]
		if !ok {
			out = append(out, Discrepancy{
				Ticker:   lp.Ticker,
				Kind:     KindMissingAtBroker,
				LocalQty: lp.Shares,
				Detail:   fmt.Sprintf("local holds %.4f shares, venue reports none", lp.Shares),
			})
			continue
		}
		if math.Abs(lp.Shares-bp.Quantity) > quantityTolerance {
			out = append(out, Discrepancy{
				Ticker:    lp.Ticker,
				Kind:      KindQuantityDrift,
				LocalQty:  lp.Shares,
				BrokerQty: bp.Quantity,
				Detail:    fmt.Sprintf("local %.4f vs venue %.4f shares", lp.Shares, bp.Quantity),
			})
		}
	}

	for _, bp := range broker {
		if !seen[bp.Ticker] {
			out = append(out, Discrepancy{
				Ticker:    bp.Ticker,
				Kind:      KindMissingLocally,
				BrokerQty: bp.Quantity,
				Detail:    fmt.Sprintf("venue holds %.4f shares with no local position", bp.Quantity),
			})
		}
	}
	return out
}
