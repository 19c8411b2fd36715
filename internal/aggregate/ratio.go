package aggregate

import (
	"math"
	"slices"
)

// Finite maps NaN and ±Inf to 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(Finite(v)*10) / 10
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(Finite(v)*100) / 100
}

// Clamp restricts v to [lo, hi]; non-finite values become lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	return max(lo, min(hi, v))
}

// Sum adds values, skipping non-finite ones.
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += Finite(v)
	}
	return s
}

// Ratio is sum/count rounded to one decimal, exactly 0 when count
// is not positive.
func Ratio(sum float64, count int) float64 {
	if count <= 0 {
		return 0
	}
	return Round1(sum / float64(count))
}

// Percent is 100*part/whole rounded to one decimal and clamped to
// [0, 100]; 0 when whole is not positive.
func Percent(part, whole float64) float64 {
	if whole <= 0 || math.IsNaN(whole) || math.IsInf(whole, 0) {
		return 0
	}
	return Clamp(Round1(100*part/whole), 0, 100)
}

// MeanPercent averages percentage observations. Each observation and
// the result are clamped to [0, 100].
func MeanPercent(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var s float64
	for _, v := range values {
		s += Clamp(v, 0, 100)
	}
	return Clamp(Ratio(s, len(values)), 0, 100)
}

// Median returns the median of values; the mean of the two middle
// elements for even lengths.
func Median(values []float64) float64 {
	sorted := finiteSorted(values)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Percentile returns the nearest-rank value at pct (0..1).
func Percentile(values []float64, pct float64) float64 {
	sorted := finiteSorted(values)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * Clamp(pct, 0, 1))
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func finiteSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}
