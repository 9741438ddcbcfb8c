package models

import "math"

// InfiniteGrowthScore is the trend score reported when a keyword has
// interest now but had none over its baseline period.
const InfiniteGrowthScore = 999.99

// TrendScore returns the percentage change of current interest relative to
// baseline, rounded to two decimal places. A zero baseline yields
// InfiniteGrowthScore when current is positive and 0 otherwise.
func TrendScore(current, baseline int) float64 {
	if baseline == 0 {
		if current > 0 {
			return InfiniteGrowthScore
		}
		return 0.0
	}
	raw := (float64(current-baseline) / float64(baseline)) * 100
	return math.Round(raw*100) / 100
}

// DeriveFromTimeseries computes current interest, baseline interest and the
// trend score of a series. Current is the last value; baseline is the
// truncated integer mean of the first half of the values, or of all values
// when the series has fewer than two points. ok is false for an empty series.
//
// The derivation always starts from scratch so that it gives the same answer
// regardless of how the series was assembled.
func DeriveFromTimeseries(points []TimeseriesPoint) (current, baseline int, score float64, ok bool) {
	if len(points) == 0 {
		return 0, 0, 0, false
	}

	current = points[len(points)-1].Value

	half := points
	if len(points) > 1 {
		half = points[:len(points)/2]
	}
	sum := 0
	for _, p := range half {
		sum += p.Value
	}
	baseline = sum / len(half)

	return current, baseline, TrendScore(current, baseline), true
}
