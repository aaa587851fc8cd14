package oracle

import (
	"sort"

	"cosmossdk.io/math"
)

// Median returns the median of the given values. For an even count the result
// is the exact mean of the two middle values; with 18 decimal places the
// division by two never truncates. The input slice is not modified.
//
// Callers must not pass an empty slice; consensus is only computed once the
// quorum is reached, so an empty input is a programming error and panics.
func Median(values []math.LegacyDec) math.LegacyDec {
	if len(values) == 0 {
		panic("median of empty value set")
	}

	sorted := make([]math.LegacyDec, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LT(sorted[j])
	})

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Quo(math.LegacyNewDec(2))
}

// AbsDeviation returns |value - consensus|.
func AbsDeviation(value, consensus math.LegacyDec) math.LegacyDec {
	return value.Sub(consensus).Abs()
}
