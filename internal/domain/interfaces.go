package domain

import (
	"context"
	"time"
)

// TransactionSource yields disclosed insider trades for a date range.
// Sources may return more or fewer records than the range implies; missing
// optional fields must already have defaults applied at the ingestion
// boundary (no "nan"/"N/A" sentinels past this interface).
type TransactionSource interface {
	Transactions(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

// PriceOracle answers price and fundamentals lookups. It never returns an
// error for a delisted or unknown ticker; it returns facts with
// Available=false instead. Errors are reserved for transport failures.
type PriceOracle interface {
	Facts(ctx context.Context, ticker string) (TickerFacts, error)
}

// PoliticianSource yields congressional trade disclosures for a lookback
// window. An empty set is a normal, non-error outcome.
type PoliticianSource interface {
	PoliticianTrades(ctx context.Context, from, to time.Time) ([]ExternalTrade, error)
}

// InstitutionalSource yields 13F holding changes for a lookback window.
// An empty set is a normal, non-error outcome.
type InstitutionalSource interface {
	InstitutionalHoldings(ctx context.Context, from, to time.Time) ([]ExternalTrade, error)
}

// BrokerClient abstracts the execution venue. Implementations normalize
// venue-native order statuses to the lowercase OrderStatus tags.
type BrokerClient interface {
	// SubmitOrder places a limit order. A resubmission with an already-seen
	// ClientOrderID fails with ErrDuplicateOrder.
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// Positions returns the venue's authoritative holdings. Read-only;
	// reconciliation reports discrepancies and never auto-corrects.
	Positions(ctx context.Context) ([]BrokerPosition, error)
}
