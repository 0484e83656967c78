package quality

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/domain"
)

func testConfig() config.QualityConfig {
	return config.QualityConfig{
		MinPrice:               2.0,
		MaxDrawdown:            -0.40,
		DrawdownLookbackDays:   90,
		GoPrivateCapFraction:   0.50,
		GoPrivateAbsDollar:     50_000_000,
		GoPrivateCapPct:        0.20,
		InstitutionalAbsDollar: 20_000_000,
		InstitutionalCapPct:    0.15,
		SeasonalRelaxation:     0.20,
	}
}

// midJune avoids every seasonal relaxation window.
var midJune = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

func liquidFacts() domain.TickerFacts {
	return domain.TickerFacts{
		Ticker:         "ACME",
		Available:      true,
		CurrentPrice:   10.0,
		AvgDailyVolume: 100_000, // $1M daily dollar volume
		MarketCap:      500_000_000,
	}
}

func clusterOf(insiders ...domain.Insider) domain.Cluster {
	var total float64
	for _, ins := range insiders {
		total += ins.TotalValue
	}
	return domain.Cluster{
		Ticker:     "ACME",
		Insiders:   insiders,
		Count:      len(insiders),
		TotalValue: total,
	}
}

func TestPriceFloorRejects(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.CurrentPrice = 1.50

	res := c.Evaluate(clusterOf(domain.Insider{Name: "A", TotalValue: 100_000}), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonPriceFloor, res.Reason)
}

func TestDrawdownGuardRejects(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	// Peak 100 falling to 50 is a 50% trailing decline.
	facts.Closes = []float64{100, 90, 80, 70, 60, 50}
	facts.CurrentPrice = 50

	res := c.Evaluate(clusterOf(domain.Insider{Name: "A", TotalValue: 100_000}), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonDrawdownGuard, res.Reason)
}

func TestGoPrivateSingleInsiderOverHalfCap(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.MarketCap = 100_000_000

	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "JANE DOE", Role: "CEO", TotalValue: 60_000_000},
	), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonGoPrivate, res.Reason)
}

func TestGoPrivatePerInsiderNotCombined(t *testing.T) {
	// Three insiders whose combined value is 50% of cap, none individually
	// over any threshold, must NOT trip the go-private detector.
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.MarketCap = 60_000_000

	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "A", TotalValue: 10_000_000},
		domain.Insider{Name: "B", TotalValue: 10_000_000},
		domain.Insider{Name: "C", TotalValue: 10_000_000},
	), facts, midJune)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Reason)
}

func TestGoPrivateAbsoluteDollarThreshold(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.MarketCap = 200_000_000

	// $60M at 30% of cap: over $50M and over 20%.
	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "JANE DOE", TotalValue: 60_000_000},
	), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonGoPrivate, res.Reason)

	// $60M at 6% of a $1B cap: over the dollar line but under the cap line.
	facts.MarketCap = 1_000_000_000
	res = c.Evaluate(clusterOf(
		domain.Insider{Name: "JANE DOE", TotalValue: 60_000_000},
	), facts, midJune)
	assert.True(t, res.Accepted)
}

func TestGoPrivateInstitutionalEntity(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.MarketCap = 150_000_000

	// Individual at $25M / 16.7% of cap stays under the individual thresholds.
	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "JANE DOE", TotalValue: 25_000_000},
	), facts, midJune)
	assert.True(t, res.Accepted)

	// The same purchase from an LLC trips the institutional thresholds.
	res = c.Evaluate(clusterOf(
		domain.Insider{Name: "Blue Harbor Capital, LLC", TotalValue: 25_000_000},
	), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonGoPrivate, res.Reason)
}

func TestManualReviewAdvisoryDoesNotBlock(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.MarketCap = 150_000_000

	// $30M at 20% of cap: inside the 15-30% review band, under rejection.
	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "JANE DOE", TotalValue: 30_000_000},
	), facts, midJune)
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Advisories, AdvisoryManualReview)
}

func TestLiquidityFloorScalesWithClusterSize(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.CurrentPrice = 10.0
	facts.AvgDailyVolume = 16_000 // $160k/day

	// Two insiders need $200k/day.
	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "A", TotalValue: 60_000},
		domain.Insider{Name: "B", TotalValue: 60_000},
	), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonLiquidityFloor, res.Reason)

	// Five insiders only need $150k/day.
	res = c.Evaluate(clusterOf(
		domain.Insider{Name: "A", TotalValue: 60_000},
		domain.Insider{Name: "B", TotalValue: 60_000},
		domain.Insider{Name: "C", TotalValue: 60_000},
		domain.Insider{Name: "D", TotalValue: 60_000},
		domain.Insider{Name: "E", TotalValue: 60_000},
	), facts, midJune)
	assert.True(t, res.Accepted)
}

func TestInsiderMinimumsScaleWithClusterSize(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()

	// Two insiders averaging $45k miss the $50k small-cluster minimum.
	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "A", TotalValue: 45_000},
		domain.Insider{Name: "B", TotalValue: 45_000},
	), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonInsiderMinimum, res.Reason)

	// Five insiders averaging $45k clear the $40k mid-cluster minimum and the
	// $150k total.
	res = c.Evaluate(clusterOf(
		domain.Insider{Name: "A", TotalValue: 45_000},
		domain.Insider{Name: "B", TotalValue: 45_000},
		domain.Insider{Name: "C", TotalValue: 45_000},
		domain.Insider{Name: "D", TotalValue: 45_000},
		domain.Insider{Name: "E", TotalValue: 45_000},
	), facts, midJune)
	assert.True(t, res.Accepted)

	// Seven insiders averaging $25k miss even the $30k large-cluster minimum.
	small := make([]domain.Insider, 7)
	for i := range small {
		small[i] = domain.Insider{Name: string(rune('A' + i)), TotalValue: 25_000}
	}
	res = c.Evaluate(clusterOf(small...), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonInsiderMinimum, res.Reason)
}

func TestMegaClusterBypassesLiquidityOnly(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())

	// Illiquid name: $50k/day is under every floor.
	facts := liquidFacts()
	facts.AvgDailyVolume = 5_000 // $50k/day

	mega := clusterOf(
		domain.Insider{Name: "A", TotalValue: 400_000},
		domain.Insider{Name: "B", TotalValue: 400_000},
		domain.Insider{Name: "C", TotalValue: 400_000},
	)
	res := c.Evaluate(mega, facts, midJune)
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Relaxations, RelaxMegaCluster)

	// The bypass does not extend to the price floor.
	facts.CurrentPrice = 1.0
	res = c.Evaluate(mega, facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonPriceFloor, res.Reason)

	// Nor to the drawdown guard.
	facts = liquidFacts()
	facts.AvgDailyVolume = 5_000
	facts.Closes = []float64{100, 80, 60, 50}
	res = c.Evaluate(mega, facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonDrawdownGuard, res.Reason)
}

func TestMegaClusterRequiresThreeInsiders(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.AvgDailyVolume = 5_000 // illiquid

	res := c.Evaluate(clusterOf(
		domain.Insider{Name: "A", TotalValue: 600_000},
		domain.Insider{Name: "B", TotalValue: 600_000},
	), facts, midJune)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonLiquidityFloor, res.Reason)
}

func TestHolidayRelaxationLowersThresholds(t *testing.T) {
	c := NewChain(testConfig(), zerolog.Nop())
	facts := liquidFacts()
	facts.AvgDailyVolume = 17_000 // $170k/day, under 200k but over 160k

	cl := clusterOf(
		domain.Insider{Name: "A", TotalValue: 45_000}, // under $50k, over $40k
		domain.Insider{Name: "B", TotalValue: 45_000},
	)

	// Outside any window: rejected on liquidity.
	res := c.Evaluate(cl, facts, midJune)
	assert.False(t, res.Accepted)

	// Dec 28: both the liquidity floor (160k) and the per-insider minimum
	// (40k) are relaxed by 20%.
	dec := time.Date(2025, time.December, 28, 12, 0, 0, 0, time.UTC)
	res = c.Evaluate(cl, facts, dec)
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Relaxations, RelaxHoliday)
}

func TestHolidayWindows(t *testing.T) {
	cases := []struct {
		date time.Time
		want string
	}{
		{time.Date(2025, time.December, 20, 0, 0, 0, 0, time.UTC), "year_end"},
		{time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC), "year_end"},
		{time.Date(2026, time.January, 6, 0, 0, 0, 0, time.UTC), ""},
		{time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), "summer"},
		{time.Date(2025, time.August, 15, 0, 0, 0, 0, time.UTC), "summer"},
		{time.Date(2025, time.August, 16, 0, 0, 0, 0, time.UTC), ""},
		{time.Date(2025, time.April, 20, 0, 0, 0, 0, time.UTC), "earnings_blackout"},
		{time.Date(2025, time.April, 21, 0, 0, 0, 0, time.UTC), ""},
		// Thanksgiving 2025 is Thursday Nov 27; its week runs Mon 24 - Sun 30.
		{time.Date(2025, time.November, 24, 0, 0, 0, 0, time.UTC), "thanksgiving"},
		{time.Date(2025, time.November, 30, 0, 0, 0, 0, time.UTC), "thanksgiving"},
		{time.Date(2025, time.November, 17, 0, 0, 0, 0, time.UTC), ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, holidayWindow(tc.date), tc.date.Format("2006-01-02"))
	}
}

func TestInstitutionalEntityDetection(t *testing.T) {
	assert.True(t, isInstitutionalEntity("Blue Harbor Capital, LLC"))
	assert.True(t, isInstitutionalEntity("Greenfield Partners LP"))
	assert.True(t, isInstitutionalEntity("The Family Trust"))
	assert.False(t, isInstitutionalEntity("Jane Doe"))
	assert.False(t, isInstitutionalEntity("Lloyd Campbell")) // no token match on substrings
}
