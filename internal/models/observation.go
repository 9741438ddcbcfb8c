// Package models defines the core domain entities for trendscout: interest
// samples, scored keyword observations, missions, mission runs and the
// ranked results a run persists.
//
// Derived values (current interest, baseline interest, trend score) are only
// ever written through the methods on TrendObservation, so they cannot go
// stale relative to the timeseries they were computed from.
package models

import (
	"errors"
	"strings"
)

// TrendObservation is one keyword as seen by one source in one region.
type TrendObservation struct {
	Keyword        string            `json:"keyword"`
	Region         string            `json:"region"`
	Source         string            `json:"source"`
	TimeWindow     string            `json:"time_window,omitempty"` // window that produced Timeseries
	Timeseries     []TimeseriesPoint `json:"timeseries,omitempty"`
	RelatedQueries []string          `json:"related_queries,omitempty"`
	RisingQueries  []RisingQuery     `json:"rising_queries,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`

	CurrentInterest  int     `json:"current_interest"`
	BaselineInterest int     `json:"baseline_interest"`
	TrendScore       float64 `json:"trend_score"`
}

// SetTimeseries replaces the observation's series and re-derives current
// interest, baseline interest and trend score from it. An empty series
// leaves the derived values untouched.
func (o *TrendObservation) SetTimeseries(points []TimeseriesPoint) {
	o.Timeseries = points
	current, baseline, score, ok := DeriveFromTimeseries(points)
	if !ok {
		return
	}
	o.CurrentInterest = current
	o.BaselineInterest = baseline
	o.TrendScore = score
}

// AppendPoints adds points to the end of the series and re-derives.
func (o *TrendObservation) AppendPoints(points ...TimeseriesPoint) {
	series := make([]TimeseriesPoint, 0, len(o.Timeseries)+len(points))
	series = append(series, o.Timeseries...)
	series = append(series, points...)
	o.SetTimeseries(series)
}

// SetInterest sets approximate interest values for observations that have
// no series (e.g. trending lists ranked by position) and scores them.
func (o *TrendObservation) SetInterest(current, baseline int) {
	o.CurrentInterest = current
	o.BaselineInterest = baseline
	o.TrendScore = TrendScore(current, baseline)
}

// PeakInterest returns the highest value in the series, or the current
// interest when there is no series.
func (o *TrendObservation) PeakInterest() int {
	if len(o.Timeseries) == 0 {
		return o.CurrentInterest
	}
	peak := o.Timeseries[0].Value
	for _, p := range o.Timeseries[1:] {
		if p.Value > peak {
			peak = p.Value
		}
	}
	return peak
}

// Key returns the canonical keyword key for the given language.
func (o *TrendObservation) Key(language string) CanonicalKey {
	return NewCanonicalKey(o.Keyword, language)
}

// Validate checks that the observation can be persisted.
func (o *TrendObservation) Validate() error {
	if strings.TrimSpace(o.Keyword) == "" {
		return errors.New("keyword must not be empty")
	}
	if o.Source == "" {
		return errors.New("source must not be empty")
	}
	if o.Region == "" {
		return errors.New("region must not be empty")
	}
	for i := range o.Timeseries {
		if err := o.Timeseries[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
