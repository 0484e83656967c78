package formulas

import (
	"github.com/markcheno/go-talib"
)

// TrailingDecline returns the percentage decline of the latest close from
// the highest close within the lookback window, as a negative fraction
// (e.g. -0.42 for a 42% decline). Returns 0 when there is not enough data
// to evaluate the window.
func TrailingDecline(closes []float64, lookback int) float64 {
	if len(closes) < 2 {
		return 0
	}
	if lookback > len(closes) {
		lookback = len(closes)
	}

	// talib.Max produces the rolling maximum; the last element is the
	// highest close over the final window.
	highs := talib.Max(closes, lookback)
	peak := highs[len(highs)-1]
	if peak <= 0 {
		return 0
	}

	current := closes[len(closes)-1]
	return (current - peak) / peak
}

// RateOfChange returns the percentage change over the given period for the
// latest point of the series, as a fraction. Returns 0 when the series is
// too short.
func RateOfChange(closes []float64, period int) float64 {
	if len(closes) <= period || period <= 0 {
		return 0
	}
	roc := talib.Roc(closes, period)
	return roc[len(roc)-1] / 100.0
}
