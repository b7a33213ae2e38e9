package core

import (
	"math"
	"sort"
)

// -----------------------------------------------------------------------------

// CalculateMean returns the arithmetic mean, NaN for empty input.
func CalculateMean(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// -----------------------------------------------------------------------------

// CalculateMedian returns the median (mean of the two middle values for even
// lengths), NaN for empty input. The input is not modified.
func CalculateMedian(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, data)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// -----------------------------------------------------------------------------

// CalculateWeightedMean returns Σ(v·w)/Σw, NaN when Σw is zero.
func CalculateWeightedMean(values, weights []float64) float64 {
	if len(values) != len(weights) {
		return math.NaN()
	}
	num, den := 0.0, 0.0
	for i, v := range values {
		num += v * weights[i]
		den += weights[i]
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}
