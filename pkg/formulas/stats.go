package formulas

import (
	"gonum.org/v1/gonum/stat"
)

// ZScore returns how many standard deviations v sits from the mean of the
// sample. Returns 0 for samples with fewer than two points or zero variance,
// so callers never divide by zero.
func ZScore(v float64, sample []float64) float64 {
	if len(sample) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(sample, nil)
	if std == 0 {
		return 0
	}
	return (v - mean) / std
}

// Mean returns the arithmetic mean of the sample, 0 for an empty sample.
func Mean(sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	return stat.Mean(sample, nil)
}
