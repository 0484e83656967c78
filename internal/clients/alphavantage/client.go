// Package alphavantage implements the price oracle over the Alpha Vantage
// HTTP API. The free tier allows 25 requests per day, so the client enforces
// its own daily budget and caches raw responses; the budget resets at UTC
// midnight like the upstream quota.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"
	dailyLimit     = 25

	// volumeWindow is how many recent sessions feed the average daily
	// volume used by the liquidity floor.
	volumeWindow = 20
)

// ErrRateLimitExceeded is returned when the daily request budget is spent.
type ErrRateLimitExceeded struct{}

func (ErrRateLimitExceeded) Error() string {
	return "alpha vantage rate limit exceeded, daily request budget spent"
}

// ErrInvalidAPIKey is returned when the API rejects the configured key.
type ErrInvalidAPIKey struct{}

func (ErrInvalidAPIKey) Error() string {
	return "alpha vantage rejected the request: invalid API key"
}

// ErrSymbolNotFound is returned when the API has no data for a symbol.
// Callers treat this as "unavailable", never as a transport failure.
type ErrSymbolNotFound struct {
	Symbol string
}

func (e ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("alpha vantage has no data for symbol %s", e.Symbol)
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// Client is the Alpha Vantage HTTP client.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu            sync.Mutex
	requestsToday int
	resetAt       time.Time

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// NewClient creates an Alpha Vantage client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "alphavantage").Logger(),
		resetAt: nextMidnightUTC(),
		cache:   map[string]cacheEntry{},
	}
}

// Facts implements domain.PriceOracle. A symbol the API does not know comes
// back with Available=false and a nil error; only transport and quota
// failures are errors.
func (c *Client) Facts(ctx context.Context, ticker string) (domain.TickerFacts, error) {
	facts := domain.TickerFacts{Ticker: ticker, AsOf: time.Now().UTC()}

	daily, err := c.fetch(ctx, "TIME_SERIES_DAILY", map[string]string{
		"symbol":     ticker,
		"outputsize": "compact",
	}, 15*time.Minute)
	if _, notFound := err.(ErrSymbolNotFound); notFound {
		return facts, nil
	}
	if err != nil {
		return domain.TickerFacts{}, err
	}

	prices, err := parseDailyTimeSeries(daily)
	if err != nil {
		return domain.TickerFacts{}, fmt.Errorf("failed to parse daily series for %s: %w", ticker, err)
	}
	if len(prices) == 0 {
		return facts, nil
	}

	facts.Available = true
	facts.CurrentPrice = prices[0].Close
	facts.AvgDailyVolume = averageVolume(prices, volumeWindow)
	facts.Low52W = lowestLow(prices)

	// Series comes newest first; the pipeline wants closes oldest first.
	facts.Closes = make([]float64, len(prices))
	for i, p := range prices {
		facts.Closes[len(prices)-1-i] = p.Close
	}

	// OVERVIEW supplies market cap and the true 52-week low. Some listings
	// (ETFs, fresh IPOs) have no overview; the series-derived values stand.
	overview, err := c.fetch(ctx, "OVERVIEW", map[string]string{"symbol": ticker}, 24*time.Hour)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Company overview unavailable, using series-derived fundamentals")
		return facts, nil
	}
	ov, err := parseCompanyOverview(overview)
	if err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to parse company overview")
		return facts, nil
	}
	facts.MarketCap = float64(ov.MarketCapitalization)
	if ov.FiftyTwoWeekLow != nil && *ov.FiftyTwoWeekLow > 0 {
		facts.Low52W = *ov.FiftyTwoWeekLow
	}
	return facts, nil
}

// fetch performs one API call with caching and rate limiting. The raw body
// is cached so repeated lookups inside the TTL never touch the quota.
func (c *Client) fetch(ctx context.Context, function string, params map[string]string, ttl time.Duration) ([]byte, error) {
	key := buildCacheKey(function, params)
	if data, ok := c.getFromCache(key); ok {
		return data, nil
	}

	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("function", function)
	q.Set("apikey", c.apiKey)
	for k, v := range params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build alpha vantage request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alpha vantage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read alpha vantage response: %w", err)
	}
	if err := c.checkAPIError(body); err != nil {
		if _, isErrMsg := err.(errAPIMessage); isErrMsg {
			return nil, ErrSymbolNotFound{Symbol: params["symbol"]}
		}
		return nil, err
	}

	c.setCache(key, body, ttl)
	return body, nil
}

// errAPIMessage wraps an "Error Message" response, which Alpha Vantage uses
// for unknown symbols and malformed calls.
type errAPIMessage struct {
	message string
}

func (e errAPIMessage) Error() string {
	return "alpha vantage error: " + e.message
}

// checkAPIError detects the API's in-band error responses. Alpha Vantage
// returns HTTP 200 for quota exhaustion and bad symbols alike, with the
// failure described in the body.
func (c *Client) checkAPIError(body []byte) error {
	if strings.Contains(string(body), "Thank you for using Alpha Vantage") {
		return ErrRateLimitExceeded{}
	}

	var probe struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil // non-JSON bodies are handled by the parsers
	}

	switch {
	case probe.Note != "" || probe.Information != "":
		return ErrRateLimitExceeded{}
	case strings.Contains(strings.ToLower(probe.ErrorMessage), "apikey"):
		return ErrInvalidAPIKey{}
	case probe.ErrorMessage != "":
		return errAPIMessage{message: probe.ErrorMessage}
	}
	return nil
}

// checkRateLimit consumes one unit of the daily budget, rolling the counter
// at UTC midnight.
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().UTC().After(c.resetAt) {
		c.requestsToday = 0
		c.resetAt = nextMidnightUTC()
	}
	if c.requestsToday >= dailyLimit {
		return ErrRateLimitExceeded{}
	}
	c.requestsToday++
	return nil
}

// GetRemainingRequests reports the unused daily budget.
func (c *Client) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dailyLimit - c.requestsToday
}

// ResetDailyCounter resets the budget. Exposed for tests and manual ops.
func (c *Client) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsToday = 0
	c.resetAt = nextMidnightUTC()
}

func (c *Client) setCache(key string, data []byte, ttl time.Duration) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

func (c *Client) getFromCache(key string) ([]byte, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = map[string]cacheEntry{}
}

// buildCacheKey derives a stable key from the function and its parameters.
// The API key never participates.
func buildCacheKey(function string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "apikey" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(function)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}

func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// DailyPrice is one session from the daily time series.
type DailyPrice struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// parseDailyTimeSeries decodes a TIME_SERIES_DAILY response, newest first.
func parseDailyTimeSeries(body []byte) ([]DailyPrice, error) {
	var raw struct {
		Series map[string]struct {
			Open   string `json:"1. open"`
			High   string `json:"2. high"`
			Low    string `json:"3. low"`
			Close  string `json:"4. close"`
			Volume string `json:"5. volume"`
		} `json:"Time Series (Daily)"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode time series: %w", err)
	}

	prices := make([]DailyPrice, 0, len(raw.Series))
	for date, v := range raw.Series {
		prices = append(prices, DailyPrice{
			Date:   parseDate(date),
			Open:   parseFloat64(v.Open),
			High:   parseFloat64(v.High),
			Low:    parseFloat64(v.Low),
			Close:  parseFloat64(v.Close),
			Volume: parseInt64(v.Volume),
		})
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Date.After(prices[j].Date) })
	return prices, nil
}

// CompanyOverview is the subset of the OVERVIEW response the oracle uses.
type CompanyOverview struct {
	Symbol               string
	MarketCapitalization int64
	FiftyTwoWeekLow      *float64
}

func parseCompanyOverview(body []byte) (*CompanyOverview, error) {
	var raw struct {
		Symbol          string `json:"Symbol"`
		MarketCap       string `json:"MarketCapitalization"`
		FiftyTwoWeekLow string `json:"52WeekLow"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode company overview: %w", err)
	}
	return &CompanyOverview{
		Symbol:               raw.Symbol,
		MarketCapitalization: parseInt64(raw.MarketCap),
		FiftyTwoWeekLow:      parseFloat64Ptr(raw.FiftyTwoWeekLow),
	}, nil
}

func averageVolume(prices []DailyPrice, window int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if window > len(prices) {
		window = len(prices)
	}
	var total float64
	for _, p := range prices[:window] {
		total += float64(p.Volume)
	}
	return total / float64(window)
}

func lowestLow(prices []DailyPrice) float64 {
	low := 0.0
	for _, p := range prices {
		if p.Low > 0 && (low == 0 || p.Low < low) {
			low = p.Low
		}
	}
	return low
}

// parseFloat64 parses the API's numeric strings, mapping the missing-value
// sentinels and parse failures to 0. Percent suffixes are stripped.
func parseFloat64(raw string) float64 {
	v := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	switch v {
	case "", "None", "null", "-", ".":
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseFloat64Ptr is parseFloat64 with missing values as nil.
func parseFloat64Ptr(raw string) *float64 {
	v := strings.TrimSpace(raw)
	switch v {
	case "", "None", "null", "-":
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt64(raw string) int64 {
	return int64(parseFloat64(raw))
}

func parseDate(raw string) time.Time {
	d, _ := time.Parse("2006-01-02", raw)
	return d
}
