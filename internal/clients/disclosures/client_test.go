package disclosures

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/convictiond/internal/domain"
)

func feedServer(t *testing.T, path, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var seen http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *r
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestTransactionsAppliesDefaults(t *testing.T) {
	srv, seen := feedServer(t, "/insider-transactions", `[
		{"ticker":"acme","filer_name":"Jane Doe","role":"CEO",
		 "transaction_date":"2025-06-09","filing_date":"2025-06-10",
		 "transaction_type":"P","shares":1000,"price_per_share":10.0,"total_value":10000},
		{"ticker":"ACME","filer_name":"John Roe","role":"N/A",
		 "transaction_date":"2025-06-09",
		 "transaction_type":"weird","shares":500,"price_per_share":10.0,"total_value":5000}
	]`)

	c := NewClient(srv.URL, "feed-key", zerolog.Nop())
	from := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	txs, err := c.Transactions(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "ACME", txs[0].Ticker)
	assert.Equal(t, domain.TransactionBuy, txs[0].Type)
	assert.Equal(t, "2025-06-10", txs[0].FilingDate.Format("2006-01-02"))

	// Sentinel role cleared, missing filing date defaulted to trade date,
	// unknown type mapped to OTHER.
	assert.Empty(t, txs[1].Role)
	assert.Equal(t, txs[1].TransactionDate, txs[1].FilingDate)
	assert.Equal(t, domain.TransactionOther, txs[1].Type)

	assert.Equal(t, "Bearer feed-key", seen.Header.Get("Authorization"))
	assert.Equal(t, "2025-06-05", seen.URL.Query().Get("from"))
	assert.Equal(t, "2025-06-10", seen.URL.Query().Get("to"))
}

func TestPoliticianTradesSkipsUnusableRows(t *testing.T) {
	srv, _ := feedServer(t, "/congress-trades", `[
		{"ticker":"ACME","entity":"Rep A","party":"D","date":"2025-06-08","amount":150000},
		{"ticker":"","entity":"Rep B","party":"R","date":"2025-06-08","amount":50000},
		{"ticker":"OMEGA","entity":"N/A","date":"2025-06-08","amount":50000}
	]`)

	c := NewClient(srv.URL, "", zerolog.Nop())
	trades, err := c.PoliticianTrades(context.Background(), time.Now().AddDate(0, 0, -5), time.Now())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "ACME", trades[0].Ticker)
	assert.Equal(t, "D", trades[0].Party)
}

func TestInstitutionalHoldingsEmptyFeed(t *testing.T) {
	srv, _ := feedServer(t, "/institutional-changes", `[]`)

	c := NewClient(srv.URL, "", zerolog.Nop())
	trades, err := c.InstitutionalHoldings(context.Background(), time.Now().AddDate(0, 0, -5), time.Now())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPeerReturnsDecodesFractions(t *testing.T) {
	srv, seen := feedServer(t, "/sector-peers", `[0.05, -0.02, 0.11]`)

	c := NewClient(srv.URL, "", zerolog.Nop())
	returns, err := c.PeerReturns("acme")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, -0.02, 0.11}, returns)
	assert.Equal(t, "ACME", seen.URL.Query().Get("ticker"))
}

func TestFeedErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", zerolog.Nop())
	_, err := c.Transactions(context.Background(), time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
