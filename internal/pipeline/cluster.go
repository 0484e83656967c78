package pipeline

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/domain"
)

// Clusterer groups deduplicated BUY transactions by ticker into rolling
// window clusters. Window membership is transitively chained: a transaction
// joins the cluster when its filing date falls within the window of the
// cluster's current date range, which grows as transactions are added in
// chronological order.
type Clusterer struct {
	windowDays int
	log        zerolog.Logger
}

// NewClusterer creates a clusterer with the given rolling window in days.
func NewClusterer(windowDays int, log zerolog.Logger) *Clusterer {
	if windowDays <= 0 {
		windowDays = 5
	}
	return &Clusterer{
		windowDays: windowDays,
		log:        log.With().Str("stage", "cluster").Logger(),
	}
}

// Run builds at most one cluster per ticker from the deduplicated
// transactions: the most recent chain of qualifying insider purchases.
// Output ordering is unspecified; callers sort.
func (c *Clusterer) Run(txs []domain.Transaction) []domain.Cluster {
	byTicker := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		if tx.Type != domain.TransactionBuy {
			continue
		}
		if tx.Value() <= 0 {
			continue
		}
		byTicker[tx.Ticker] = append(byTicker[tx.Ticker], tx)
	}

	clusters := make([]domain.Cluster, 0, len(byTicker))
	for ticker, buys := range byTicker {
		cluster := c.latestChain(ticker, buys)
		if cluster.Count > 0 {
			clusters = append(clusters, cluster)
		}
	}

	c.log.Info().
		Int("buy_transactions", len(txs)).
		Int("clusters", len(clusters)).
		Msg("Clustering completed")

	return clusters
}

// latestChain walks the ticker's purchases in filing order and returns the
// most recent transitively chained window as a cluster.
func (c *Clusterer) latestChain(ticker string, buys []domain.Transaction) domain.Cluster {
	sort.Slice(buys, func(i, j int) bool {
		return buys[i].FilingDate.Before(buys[j].FilingDate)
	})

	window := time.Duration(c.windowDays) * 24 * time.Hour

	var chain []domain.Transaction
	var chainEnd time.Time
	for _, tx := range buys {
		if len(chain) == 0 || tx.FilingDate.Sub(chainEnd) <= window {
			chain = append(chain, tx)
		} else {
			// Gap exceeds the window: start a fresh chain. Only the most
			// recent chain is reported for the run.
			chain = chain[:0]
			chain = append(chain, tx)
		}
		if tx.FilingDate.After(chainEnd) {
			chainEnd = tx.FilingDate
		}
	}

	return c.aggregate(ticker, chain)
}

// aggregate folds a chain of transactions into a cluster, summing repeat
// filings of the same normalized insider identity into one insider entry.
func (c *Clusterer) aggregate(ticker string, chain []domain.Transaction) domain.Cluster {
	if len(chain) == 0 {
		return domain.Cluster{Ticker: ticker}
	}

	byInsider := make(map[string]*domain.Insider)
	order := make([]string, 0, len(chain))
	start, end := chain[0].FilingDate, chain[0].FilingDate

	for _, tx := range chain {
		if tx.FilingDate.Before(start) {
			start = tx.FilingDate
		}
		if tx.FilingDate.After(end) {
			end = tx.FilingDate
		}

		name := domain.NormalizeName(tx.FilerName)
		entry, ok := byInsider[name]
		if !ok {
			entry = &domain.Insider{Name: name, Role: tx.Role}
			byInsider[name] = entry
			order = append(order, name)
		}
		entry.TotalValue += tx.Value()
		entry.Filings++
		entry.Role = domain.SeniorRole(entry.Role, tx.Role)
	}

	cluster := domain.Cluster{
		Ticker:      ticker,
		WindowStart: start,
		WindowEnd:   end,
		Insiders:    make([]domain.Insider, 0, len(byInsider)),
	}
	for _, name := range order {
		ins := byInsider[name]
		cluster.Insiders = append(cluster.Insiders, *ins)
		cluster.TotalValue += ins.TotalValue
	}
	cluster.Count = len(cluster.Insiders)

	return cluster
}
