// Package monitor decides which trend observations a mission keeps and in
// which order they are reported.
//
// Filtering applies score and interest thresholds plus include/exclude
// keyword terms. Terms match as case-insensitive substrings anywhere in the
// keyword, so an exclude term of "ai" also rejects "Said topic".
//
// Ranking stable-sorts by trend score, truncates to a cap and assigns
// 1-based positions.
package monitor

import (
	"strings"

	"github.com/rewired-gh/trendscout/internal/models"
)

// Criteria are the thresholds and terms an observation must satisfy.
type Criteria struct {
	MinTrendScore float64
	MinInterest   int
	Include       []string
	Exclude       []string
}

// CriteriaFor extracts the filter criteria of a mission config.
func CriteriaFor(cfg *models.MissionConfig) Criteria {
	return Criteria{
		MinTrendScore: cfg.MinTrendScore,
		MinInterest:   cfg.MinInterest,
		Include:       cfg.KeywordsFilter.Include,
		Exclude:       cfg.KeywordsFilter.Exclude,
	}
}

// Accept reports whether obs passes all criteria: score and interest at or
// above their minimums, no exclude term present, and at least one include
// term present when any are given. Blank terms are ignored.
func (c Criteria) Accept(obs *models.TrendObservation) bool {
	if obs.TrendScore < c.MinTrendScore {
		return false
	}
	if obs.CurrentInterest < c.MinInterest {
		return false
	}

	keyword := strings.ToLower(obs.Keyword)
	for _, term := range c.Exclude {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" && strings.Contains(keyword, t) {
			return false
		}
	}

	hasInclude := false
	for _, term := range c.Include {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		hasInclude = true
		if strings.Contains(keyword, t) {
			return true
		}
	}
	return !hasInclude
}

// Filter returns the accepted observations in input order. The result is
// never nil.
func Filter(observations []models.TrendObservation, c Criteria) []models.TrendObservation {
	kept := make([]models.TrendObservation, 0, len(observations))
	for i := range observations {
		if c.Accept(&observations[i]) {
			kept = append(kept, observations[i])
		}
	}
	return kept
}
