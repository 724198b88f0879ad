package engine

import (
	"sort"
)

const rangeEpsilon = 1e-6

// AddRange returns ranges with r merged in, ordered by start with touching
// or overlapping ranges joined.
func AddRange(ranges []Range, r Range) []Range {
	if r.End <= r.Start {
		return ranges
	}

	all := append(append([]Range{}, ranges...), r)
	sort.Slice(all, func(i, j int) bool {
		return all[i].Start < all[j].Start
	})

	merged := []Range{all[0]}
	for _, next := range all[1:] {
		last := &merged[len(merged)-1]
		if next.Start <= last.End+rangeEpsilon {
			last.End = max(last.End, next.End)
			continue
		}
		merged = append(merged, next)
	}

	return merged
}

// SubtractRange returns ranges without [start, end).
func SubtractRange(ranges []Range, start, end float64) []Range {
	result := []Range{}
	for _, r := range ranges {
		if r.End <= start || r.Start >= end {
			result = append(result, r)
			continue
		}
		if r.Start < start {
			result = append(result, Range{Start: r.Start, End: start})
		}
		if r.End > end {
			result = append(result, Range{Start: end, End: r.End})
		}
	}
	return result
}
