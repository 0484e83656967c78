// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TransactionType classifies a disclosed trade.
type TransactionType string

const (
	TransactionBuy   TransactionType = "BUY"
	TransactionSell  TransactionType = "SELL"
	TransactionOther TransactionType = "OTHER"
)

// Transaction is one disclosed insider trade, immutable once ingested.
// Amended filings arrive as new Transaction values and are collapsed by the
// deduplicator; originals are never mutated.
type Transaction struct {
	Ticker          string          `json:"ticker"`
	FilerName       string          `json:"filer_name"`
	Role            string          `json:"role"`
	TransactionDate time.Time       `json:"transaction_date"`
	FilingDate      time.Time       `json:"filing_date"`
	Type            TransactionType `json:"transaction_type"`
	Shares          int64           `json:"shares"`
	PricePerShare   float64         `json:"price_per_share"`
	TotalValue      float64         `json:"total_value"`
}

// Validate checks the record against the ingestion schema. Records that fail
// validation are dropped and counted, never merged into a cluster.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return fmt.Errorf("transaction missing ticker")
	}
	if strings.TrimSpace(t.FilerName) == "" {
		return fmt.Errorf("transaction missing filer name")
	}
	if t.Shares < 0 {
		return fmt.Errorf("transaction has negative shares: %d", t.Shares)
	}
	if t.PricePerShare < 0 {
		return fmt.Errorf("transaction has negative price: %f", t.PricePerShare)
	}
	if t.TotalValue < 0 {
		return fmt.Errorf("transaction has negative total value: %f", t.TotalValue)
	}
	switch t.Type {
	case TransactionBuy, TransactionSell, TransactionOther:
	default:
		return fmt.Errorf("unknown transaction type: %q", t.Type)
	}
	if t.TransactionDate.IsZero() || t.FilingDate.IsZero() {
		return fmt.Errorf("transaction missing dates")
	}
	return nil
}

// Value returns the economic value of the trade: the reported total when
// present, otherwise shares x price.
func (t Transaction) Value() float64 {
	if t.TotalValue > 0 {
		return t.TotalValue
	}
	return float64(t.Shares) * t.PricePerShare
}

// NormalizeName folds an insider or entity name to its canonical identity
// form: upper-cased, punctuation stripped, whitespace collapsed. Identity
// matching is exact on the normalized form; no fuzzy matching is attempted
// because a false merge is worse than a missed merge.
func NormalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}

// Insider is one distinct filer inside a cluster, with purchases summed
// across repeated filings in the window.
type Insider struct {
	Name       string  `json:"name"` // normalized identity
	Role       string  `json:"role"`
	TotalValue float64 `json:"total_value"`
	Filings    int     `json:"filings"`
}

// Cluster aggregates the BUY transactions of one ticker inside a rolling
// window. Invariants: Count == len(Insiders) and TotalValue is the sum of
// per-insider totals. Clusters are rebuilt from scratch each run.
type Cluster struct {
	Ticker          string    `json:"ticker"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	Insiders        []Insider `json:"insiders"`
	Count           int       `json:"cluster_count"`
	TotalValue      float64   `json:"total_value"`
	ConvictionScore float64   `json:"conviction_score"`
	RankScore       float64   `json:"rank_score"`
}

// Tier is the confirmation strength of a signal. Lower numbered tiers are
// stronger, except Tier 0 which is the standalone politician tier.
type Tier int

const (
	Tier0 Tier = iota // politician cluster with no insider signal
	Tier1             // insider + two external confirmations
	Tier2             // insider + one external confirmation
	Tier3             // strong insider signal alone
	Tier4             // weak insider signal alone, watch-list
)

// String returns the tier label used in logs and the API.
func (t Tier) String() string {
	return fmt.Sprintf("tier%d", int(t))
}

// ConfirmationSource identifies one independent disclosure channel.
type ConfirmationSource string

const (
	SourceInsider       ConfirmationSource = "INSIDER"
	SourcePolitician    ConfirmationSource = "POLITICIAN"
	SourceInstitutional ConfirmationSource = "INSTITUTIONAL"
)

// SuggestedAction is the coarse action a signal implies.
type SuggestedAction string

const (
	ActionBuy   SuggestedAction = "BUY"
	ActionWatch SuggestedAction = "WATCH"
)

// Signal is a cluster that passed the quality filter chain and was assigned
// a tier and rank score. Signals are immutable after creation.
type Signal struct {
	Ticker         string               `json:"ticker"`
	Date           time.Time            `json:"date"`
	Cluster        Cluster              `json:"cluster"`
	Tier           Tier                 `json:"tier"`
	Sources        []ConfirmationSource `json:"confirmation_sources"`
	RankScore      float64              `json:"rank_score"`
	Action         SuggestedAction      `json:"suggested_action"`
	Rationale      string               `json:"rationale"`
	Relaxations    []string             `json:"relaxations,omitempty"` // mega_cluster, holiday
	Advisories     []string             `json:"advisories,omitempty"`  // non-blocking review flags
	ReferencePrice float64              `json:"reference_price"`
}

// HasSource reports whether the signal carries the given confirmation source.
func (s Signal) HasSource(src ConfirmationSource) bool {
	for _, v := range s.Sources {
		if v == src {
			return true
		}
	}
	return false
}

// PositionStatus is the lifecycle state of a holding.
type PositionStatus string

const (
	PositionPending PositionStatus = "PENDING"
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
)

// CloseReason records why a position exited.
type CloseReason string

const (
	CloseStop   CloseReason = "STOP"
	CloseTarget CloseReason = "TARGET"
	CloseTime   CloseReason = "TIME"
	CloseManual CloseReason = "MANUAL"
)

// Position is one simulated or live holding. Once Status is CLOSED the value
// is immutable; history is retained for performance reporting.
type Position struct {
	Ticker          string         `json:"ticker"`
	Tier            Tier           `json:"tier"`
	Status          PositionStatus `json:"status"`
	EntryPrice      float64        `json:"entry_price"`
	EntryDate       time.Time      `json:"entry_date"`
	Shares          float64        `json:"shares"`
	CostBasis       float64        `json:"cost_basis"`
	StopLossPrice   float64        `json:"stop_loss_price"`
	TakeProfitPrice float64        `json:"take_profit_price"`
	PeakPrice       float64        `json:"peak_price"`
	TrailingActive  bool           `json:"trailing_active"`
	ClientOrderID   string         `json:"client_order_id"`
	Insiders        []string       `json:"insiders,omitempty"` // normalized names, for outcome attribution
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	ClosePrice      float64        `json:"close_price,omitempty"`
	CloseReason     CloseReason    `json:"close_reason,omitempty"`
}

// GainPct returns the unrealized gain of an open position at the given
// price, as a fraction of entry.
func (p Position) GainPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// AgeDays returns the whole days the position has been held as of now.
func (p Position) AgeDays(now time.Time) int {
	return int(now.Sub(p.EntryDate).Hours() / 24)
}

// TickerFacts is the snapshot the price/fundamentals oracle returns for one
// ticker. Available is false for delisted or unknown tickers; that is a
// normal outcome, not an error.
type TickerFacts struct {
	Ticker         string    `json:"ticker"`
	Available      bool      `json:"available"`
	CurrentPrice   float64   `json:"current_price"`
	AvgDailyVolume float64   `json:"average_daily_volume"` // shares per day
	MarketCap      float64   `json:"market_cap"`
	Low52W         float64   `json:"52_week_low"`
	Closes         []float64 `json:"closes,omitempty"` // trailing daily closes, oldest first
	AsOf           time.Time `json:"as_of"`
}

// DollarVolume returns average daily dollar volume (price x average volume).
func (f TickerFacts) DollarVolume() float64 {
	return f.CurrentPrice * f.AvgDailyVolume
}

// ExternalTrade is one (ticker, entity, date, amount) tuple from the
// politician or institutional sources.
type ExternalTrade struct {
	Ticker string    `json:"ticker"`
	Entity string    `json:"entity"`
	Party  string    `json:"party,omitempty"` // politician trades only
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}
