package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source codes understood by the system. Only sources with a configured
// provider can actually be fetched.
const (
	SourceGoogleTrends = "GOOGLE_TRENDS"
	SourceYouTube      = "YOUTUBE"
	SourceX            = "X"
	SourceReddit       = "REDDIT"
	SourceTikTok       = "TIKTOK"
	SourceGoogleNews   = "GOOGLE_NEWS"
	SourceCustom       = "CUSTOM"
)

// SourceCodes lists every known source code in display order.
var SourceCodes = []string{
	SourceGoogleTrends, SourceYouTube, SourceX, SourceReddit,
	SourceTikTok, SourceGoogleNews, SourceCustom,
}

// Mission config defaults applied to absent fields.
const (
	DefaultRegion              = "US"
	DefaultTimeWindow          = Window24Hours
	DefaultMaxResultsPerRegion = 50
)

// KeywordsFilter holds the include/exclude substring lists of a mission.
type KeywordsFilter struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// MissionConfig describes what a mission scans and which candidates it keeps.
type MissionConfig struct {
	Sources             []string       `json:"sources"`
	Regions             []string       `json:"regions"`
	TimeWindows         []string       `json:"time_windows"`
	Categories          []int          `json:"categories"`
	Language            string         `json:"language,omitempty"`
	MinTrendScore       float64        `json:"min_trend_score"`
	MinInterest         int            `json:"min_interest"`
	MaxResultsPerRegion int            `json:"max_results_per_region"`
	FetchTimeseries     bool           `json:"fetch_timeseries"`
	FetchRelated        bool           `json:"fetch_related"`
	KeywordsFilter      KeywordsFilter `json:"keywords_filter"`
}

// missionConfigJSON mirrors MissionConfig with pointers so absent fields can
// be told apart from zero values.
type missionConfigJSON struct {
	Sources             []string        `json:"sources"`
	Regions             []string        `json:"regions"`
	TimeWindows         []string        `json:"time_windows"`
	Categories          []int           `json:"categories"`
	Language            string          `json:"language"`
	MinTrendScore       *float64        `json:"min_trend_score"`
	MinInterest         *int            `json:"min_interest"`
	MaxResultsPerRegion *int            `json:"max_results_per_region"`
	FetchTimeseries     *bool           `json:"fetch_timeseries"`
	FetchRelated        *bool           `json:"fetch_related"`
	KeywordsFilter      *KeywordsFilter `json:"keywords_filter"`
}

// DefaultMissionConfig returns the config used for every absent field.
func DefaultMissionConfig() MissionConfig {
	return MissionConfig{
		Sources:             []string{SourceGoogleTrends},
		Regions:             []string{DefaultRegion},
		TimeWindows:         []string{DefaultTimeWindow},
		Categories:          []int{0},
		Language:            DefaultLanguage,
		MaxResultsPerRegion: DefaultMaxResultsPerRegion,
		FetchTimeseries:     true,
		FetchRelated:        true,
	}
}

// UnmarshalJSON decodes a mission config and fills absent fields with
// their defaults.
func (c *MissionConfig) UnmarshalJSON(data []byte) error {
	var raw missionConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cfg := DefaultMissionConfig()
	if len(raw.Sources) > 0 {
		cfg.Sources = raw.Sources
	}
	if len(raw.Regions) > 0 {
		cfg.Regions = raw.Regions
	}
	if len(raw.TimeWindows) > 0 {
		cfg.TimeWindows = raw.TimeWindows
	}
	if len(raw.Categories) > 0 {
		cfg.Categories = raw.Categories
	}
	if raw.Language != "" {
		cfg.Language = raw.Language
	}
	if raw.MinTrendScore != nil {
		cfg.MinTrendScore = *raw.MinTrendScore
	}
	if raw.MinInterest != nil {
		cfg.MinInterest = *raw.MinInterest
	}
	if raw.MaxResultsPerRegion != nil {
		cfg.MaxResultsPerRegion = *raw.MaxResultsPerRegion
	}
	if raw.FetchTimeseries != nil {
		cfg.FetchTimeseries = *raw.FetchTimeseries
	}
	if raw.FetchRelated != nil {
		cfg.FetchRelated = *raw.FetchRelated
	}
	if raw.KeywordsFilter != nil {
		cfg.KeywordsFilter = *raw.KeywordsFilter
	}

	*c = cfg
	return nil
}

// ParseMissionConfig decodes a stored mission config. Empty input yields
// the defaults.
func ParseMissionConfig(data []byte) (MissionConfig, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return DefaultMissionConfig(), nil
	}
	var cfg MissionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return MissionConfig{}, fmt.Errorf("failed to parse mission config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the config can drive a run.
func (c *MissionConfig) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("mission config must name at least one source")
	}
	if len(c.Regions) == 0 {
		return errors.New("mission config must name at least one region")
	}
	for _, s := range c.Sources {
		if strings.TrimSpace(s) == "" {
			return errors.New("mission config sources must not be empty")
		}
	}
	for _, r := range c.Regions {
		if strings.TrimSpace(r) == "" {
			return errors.New("mission config regions must not be empty")
		}
	}
	if c.MinInterest < 0 {
		return errors.New("min_interest must not be negative")
	}
	if c.MaxResultsPerRegion < 1 {
		return errors.New("max_results_per_region must be at least 1")
	}
	return nil
}

// ResultCap is the maximum number of results a run of this config keeps.
func (c *MissionConfig) ResultCap() int {
	return c.MaxResultsPerRegion * len(c.Regions)
}

// MissionStatus is the lifecycle status of a mission.
type MissionStatus string

const (
	MissionActive   MissionStatus = "ACTIVE"
	MissionInactive MissionStatus = "INACTIVE"
	MissionArchived MissionStatus = "ARCHIVED"
)

// Valid reports whether s is a known mission status.
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionActive, MissionInactive, MissionArchived:
		return true
	}
	return false
}

// Mission is a saved, repeatable scan configuration.
type Mission struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      MissionStatus `json:"status"`
	Config      MissionConfig `json:"config"`
	TotalRuns   int           `json:"total_runs"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks that all mission fields are valid.
func (m *Mission) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("mission name must not be empty")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid mission status %q", m.Status)
	}
	if err := m.Config.Validate(); err != nil {
		return err
	}
	return nil
}
