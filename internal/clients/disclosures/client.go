// Package disclosures fetches the normalized disclosure feeds over HTTP:
// insider transactions, congressional trades and institutional holding
// changes. The feed serves pre-parsed JSON; this client applies field
// defaults at the ingestion boundary so no "nan"/"N/A" sentinels leak into
// the pipeline. Structural validation stays in the dedupe stage.
package disclosures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

const dateFormat = "2006-01-02"

// Client talks to the disclosure feed API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a disclosure feed client. apiKey may be empty for feeds
// that do not require one.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "disclosures").Logger(),
	}
}

// wireTransaction is the feed's insider trade record.
type wireTransaction struct {
	Ticker          string  `json:"ticker"`
	FilerName       string  `json:"filer_name"`
	Role            string  `json:"role"`
	TransactionDate string  `json:"transaction_date"`
	FilingDate      string  `json:"filing_date"`
	Type            string  `json:"transaction_type"`
	Shares          int64   `json:"shares"`
	PricePerShare   float64 `json:"price_per_share"`
	TotalValue      float64 `json:"total_value"`
}

// Transactions returns disclosed insider trades filed inside the range.
func (c *Client) Transactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	var wire []wireTransaction
	if err := c.get(ctx, "/insider-transactions", from, to, &wire); err != nil {
		return nil, err
	}

	out := make([]domain.Transaction, 0, len(wire))
	for _, w := range wire {
		tx := domain.Transaction{
			Ticker:        strings.ToUpper(strings.TrimSpace(w.Ticker)),
			FilerName:     cleanField(w.FilerName),
			Role:          cleanField(w.Role),
			Type:          transactionType(w.Type),
			Shares:        w.Shares,
			PricePerShare: w.PricePerShare,
			TotalValue:    w.TotalValue,
		}
		tx.TransactionDate, _ = time.Parse(dateFormat, w.TransactionDate)
		tx.FilingDate, _ = time.Parse(dateFormat, w.FilingDate)
		if tx.FilingDate.IsZero() {
			// Same-day filing is the conservative default for the dedupe
			// recency comparison.
			tx.FilingDate = tx.TransactionDate
		}
		out = append(out, tx)
	}
	return out, nil
}

// wireExternalTrade is the feed's politician / institutional record.
type wireExternalTrade struct {
	Ticker string  `json:"ticker"`
	Entity string  `json:"entity"`
	Party  string  `json:"party"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// PoliticianTrades returns congressional purchase disclosures in the range.
// An empty set is a normal outcome.
func (c *Client) PoliticianTrades(ctx context.Context, from, to time.Time) ([]domain.ExternalTrade, error) {
	return c.externalTrades(ctx, "/congress-trades", from, to)
}

// InstitutionalHoldings returns 13F position increases in the range. An
// empty set is a normal outcome.
func (c *Client) InstitutionalHoldings(ctx context.Context, from, to time.Time) ([]domain.ExternalTrade, error) {
	return c.externalTrades(ctx, "/institutional-changes", from, to)
}

func (c *Client) externalTrades(ctx context.Context, path string, from, to time.Time) ([]domain.ExternalTrade, error) {
	var wire []wireExternalTrade
	if err := c.get(ctx, path, from, to, &wire); err != nil {
		return nil, err
	}

	out := make([]domain.ExternalTrade, 0, len(wire))
	for _, w := range wire {
		trade := domain.ExternalTrade{
			Ticker: strings.ToUpper(strings.TrimSpace(w.Ticker)),
			Entity: cleanField(w.Entity),
			Party:  cleanField(w.Party),
			Amount: w.Amount,
		}
		trade.Date, _ = time.Parse(dateFormat, w.Date)
		if trade.Ticker == "" || trade.Entity == "" {
			continue
		}
		out = append(out, trade)
	}
	return out, nil
}

// PeerReturns returns the recent period returns of the ticker's sector
// peers, excluding the ticker itself. It satisfies the sector momentum
// provider interface, which carries no context; requests run under the
// client's own timeout.
func (c *Client) PeerReturns(ticker string) ([]float64, error) {
	url := fmt.Sprintf("%s/sector-peers?ticker=%s", c.baseURL, strings.ToUpper(strings.TrimSpace(ticker)))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed /sector-peers returned status %d", resp.StatusCode)
	}

	var returns []float64
	if err := json.NewDecoder(resp.Body).Decode(&returns); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}
	return returns, nil
}

// get performs one feed request and decodes the JSON array response.
func (c *Client) get(ctx context.Context, path string, from, to time.Time, out interface{}) error {
	url := fmt.Sprintf("%s%s?from=%s&to=%s",
		c.baseURL, path, from.UTC().Format(dateFormat), to.UTC().Format(dateFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode feed response: %w", err)
	}

	c.log.Debug().
		Str("path", path).
		Str("from", from.UTC().Format(dateFormat)).
		Str("to", to.UTC().Format(dateFormat)).
		Msg("Feed fetched")
	return nil
}

// transactionType maps the feed's type tags onto the domain taxonomy.
// Form 4 codes and spelled-out labels both appear in practice.
func transactionType(raw string) domain.TransactionType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "P", "PURCHASE", "P-PURCHASE":
		return domain.TransactionBuy
	case "SELL", "S", "SALE", "S-SALE":
		return domain.TransactionSell
	default:
		return domain.TransactionOther
	}
}

// cleanField trims a feed string and maps the usual missing-value sentinels
// to empty.
func cleanField(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToUpper(v) {
	case "N/A", "NA", "NAN", "NULL", "NONE", "--":
		return ""
	}
	return v
}
