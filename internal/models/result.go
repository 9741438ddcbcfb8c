package models

import (
	"errors"
	"time"
)

// Caps applied to the enrichment data persisted with a result.
const (
	MaxRelatedKeywords = 10
	MaxRisingQueries   = 5
)

// ResultMetrics is the free-form enrichment stored with a result.
type ResultMetrics struct {
	RisingQueries []RisingQuery `json:"rising_queries,omitempty"`
}

// RunResult is one ranked keyword persisted for a mission run. Results are
// write-once.
type RunResult struct {
	ID               string        `json:"id,omitempty"`
	MissionRunID     string        `json:"mission_run_id"`
	KeywordID        string        `json:"keyword_id"`
	Keyword          string        `json:"keyword,omitempty"` // filled on read
	SourceID         string        `json:"source_id"`
	Region           string        `json:"region"`
	TimeWindow       string        `json:"time_window,omitempty"`
	CurrentInterest  int           `json:"current_interest"`
	BaselineInterest int           `json:"baseline_interest"`
	PeakInterest     int           `json:"peak_interest"`
	TrendScore       float64       `json:"trend_score"`
	RankPosition     int           `json:"rank_position"`
	RelatedKeywords  []string      `json:"related_keywords"`
	Metrics          ResultMetrics `json:"metrics"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewRunResult builds the persisted form of a ranked observation, applying
// the enrichment caps.
func NewRunResult(runID, keywordID, sourceID string, obs *TrendObservation, rank int) RunResult {
	related := obs.RelatedQueries
	if len(related) > MaxRelatedKeywords {
		related = related[:MaxRelatedKeywords]
	}
	rising := obs.RisingQueries
	if len(rising) > MaxRisingQueries {
		rising = rising[:MaxRisingQueries]
	}
	relatedCopy := make([]string, len(related))
	copy(relatedCopy, related)
	return RunResult{
		MissionRunID:     runID,
		KeywordID:        keywordID,
		Keyword:          obs.Keyword,
		SourceID:         sourceID,
		Region:           obs.Region,
		TimeWindow:       obs.TimeWindow,
		CurrentInterest:  obs.CurrentInterest,
		BaselineInterest: obs.BaselineInterest,
		PeakInterest:     obs.PeakInterest(),
		TrendScore:       obs.TrendScore,
		RankPosition:     rank,
		RelatedKeywords:  relatedCopy,
		Metrics:          ResultMetrics{RisingQueries: append([]RisingQuery(nil), rising...)},
	}
}

// Validate checks that the result can be persisted.
func (r *RunResult) Validate() error {
	if r.MissionRunID == "" {
		return errors.New("mission run ID must not be empty")
	}
	if r.KeywordID == "" {
		return errors.New("keyword ID must not be empty")
	}
	if r.Region == "" {
		return errors.New("region must not be empty")
	}
	if r.RankPosition < 1 {
		return errors.New("rank position must be at least 1")
	}
	return nil
}
