package aggregate

import (
	"cmp"
	"slices"
)

// GroupSum accumulates pairs by key. Output keys appear in the order
// they were first seen; empty keys group under "unknown".
func GroupSum(pairs []Point) []Point {
	idx := make(map[string]int)
	var out []Point
	for _, p := range pairs {
		key := p.Key
		if key == "" {
			key = "unknown"
		}
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, Point{Key: key})
		}
		out[i].Value += Finite(p.Value)
	}
	for i := range out {
		out[i].Value = Round2(out[i].Value)
	}
	return out
}

// GroupCount counts occurrences of each key in first-seen order.
func GroupCount(keys []string) []Point {
	pairs := make([]Point, len(keys))
	for i, k := range keys {
		pairs[i] = Point{Key: k, Value: 1}
	}
	return GroupSum(pairs)
}

// Ranked returns a copy of points sorted by value descending. Ties
// keep their input order.
func Ranked(points []Point) []Point {
	out := slices.Clone(points)
	slices.SortStableFunc(out, func(a, b Point) int {
		return cmp.Compare(b.Value, a.Value)
	})
	return out
}

// TopN returns the n highest points; n <= 0 keeps all.
func TopN(points []Point, n int) []Point {
	out := Ranked(points)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	if out == nil {
		return []Point{}
	}
	return out
}
