// Package formulas provides pure numeric helpers shared by the scoring
// and risk components. All functions are deterministic and allocation-free
// unless noted.
package formulas

import "math"

// LogScale compresses a dollar value onto a log10 scale.
// Values below 1 are clamped to 1 so the result is never negative.
func LogScale(value float64) float64 {
	return math.Log10(math.Max(value, 1))
}

// Lerp linearly interpolates between lo and hi as t ranges over [0, 1].
// t is clamped to [0, 1] so the result never leaves the [lo, hi] band.
func Lerp(lo, hi, t float64) float64 {
	t = Clamp(t, 0, 1)
	return lo + (hi-lo)*t
}

// Clamp bounds v to the inclusive range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round2 rounds to two decimal places (cents).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round3 rounds to three decimal places. Used for score components so
// stored values compare stably across runs.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
