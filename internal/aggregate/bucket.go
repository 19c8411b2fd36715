// Package aggregate holds the pure functions that turn typed records
// into metric values: time bucketing, grouping and ranking, ratios and
// the commission interval. Every function is total: malformed input
// yields zeros, never a panic, NaN or Inf.
package aggregate

import (
	"time"
)

// Granularity is the width of a time bucket.
type Granularity string

const (
	Month Granularity = "month"
	Day   Granularity = "day"
)

const (
	MonthLayout = "2006-01"
	DayLayout   = "2006-01-02"
)

// Key returns the bucket key of t in UTC.
func (g Granularity) Key(t time.Time) string {
	if g == Day {
		return DayKey(t)
	}
	return MonthKey(t)
}

// MonthKey formats t as "YYYY-MM".
func MonthKey(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// DayKey formats t as "YYYY-MM-DD".
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// MonthStart truncates t to the first instant of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthKeys lists every month from the month of from through the
// month of to, inclusive. Empty when to precedes from.
func MonthKeys(from, to time.Time) []string {
	start, end := MonthStart(from), MonthStart(to)
	var keys []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		keys = append(keys, MonthKey(m))
	}
	return keys
}

// DayKeys lists every day from from through to, inclusive.
func DayKeys(from, to time.Time) []string {
	start, end := DayStart(from), DayStart(to)
	var keys []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		keys = append(keys, DayKey(d))
	}
	return keys
}

// TrailingMonthKeys returns n month keys ending with the month of
// now, oldest first.
func TrailingMonthKeys(now time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	end := MonthStart(now)
	return MonthKeys(end.AddDate(0, -(n - 1), 0), end)
}

// TrailingDayKeys returns n day keys ending with the day of now.
func TrailingDayKeys(now time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	end := DayStart(now)
	return DayKeys(end.AddDate(0, 0, -(n - 1)), end)
}

// Sample is one timestamped value.
type Sample struct {
	At    time.Time
	Value float64
}

// Point is one entry of an aggregate series: a bucket or group key
// and its value.
type Point struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// SumByBucket sums samples into the given bucket keys. Every key is
// present in the output, in the order given, zero when no sample
// fell into it. Samples outside the keys are ignored.
func SumByBucket(
	samples []Sample, keys []string, g Granularity,
) []Point {
	idx := make(map[string]int, len(keys))
	out := make([]Point, len(keys))
	for i, k := range keys {
		idx[k] = i
		out[i] = Point{Key: k}
	}
	for _, s := range samples {
		if s.At.IsZero() {
			continue
		}
		if i, ok := idx[g.Key(s.At)]; ok {
			out[i].Value += Finite(s.Value)
		}
	}
	for i := range out {
		out[i].Value = Round2(out[i].Value)
	}
	return out
}

// CountByBucket is SumByBucket with every sample weighted 1.
func CountByBucket(
	times []time.Time, keys []string, g Granularity,
) []Point {
	samples := make([]Sample, len(times))
	for i, t := range times {
		samples[i] = Sample{At: t, Value: 1}
	}
	return SumByBucket(samples, keys, g)
}

// SumByKey is SumByBucket for values already keyed by bucket, such
// as rows of a precomputed monthly view.
func SumByKey(points []Point, keys []string) []Point {
	idx := make(map[string]int, len(keys))
	out := make([]Point, len(keys))
	for i, k := range keys {
		idx[k] = i
		out[i] = Point{Key: k}
	}
	for _, p := range points {
		if i, ok := idx[p.Key]; ok {
			out[i].Value += Finite(p.Value)
		}
	}
	for i := range out {
		out[i].Value = Round2(out[i].Value)
	}
	return out
}
