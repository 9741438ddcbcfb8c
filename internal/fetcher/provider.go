// Package fetcher wraps trend-data providers with rate limiting, retry with
// exponential backoff and keyword batching.
//
// A Provider performs a single outbound request per call and knows nothing
// about pacing. A Fetcher owns one Provider and guarantees that calls are
// issued one at a time, no faster than the configured requests per minute,
// and that transient failures are retried.
package fetcher

import (
	"context"
	"errors"

	"github.com/rewired-gh/trendscout/internal/models"
)

// MaxBatchKeywords is the most keywords a provider accepts in one
// interest-over-time request.
const MaxBatchKeywords = 5

// RelatedQueries holds the queries a provider associates with a keyword.
type RelatedQueries struct {
	Top    []string             `json:"top"`
	Rising []models.RisingQuery `json:"rising"`
}

// Provider is the capability set of a trend-data source. Implementations
// return errors wrapped with Permanent for failures that must not be retried.
type Provider interface {
	// Source returns the source code the provider reports under.
	Source() string

	// FetchTrending returns the currently trending keywords of a region
	// and category, most popular first, with approximate interest set.
	FetchTrending(ctx context.Context, region string, category, limit int) ([]models.TrendObservation, error)

	// FetchInterestOverTime returns the interest series of up to
	// MaxBatchKeywords keywords, keyed by the keyword as given.
	FetchInterestOverTime(ctx context.Context, keywords []string, region, window string) (map[string][]models.TimeseriesPoint, error)

	// FetchRelatedQueries returns top and rising queries for a keyword.
	FetchRelatedQueries(ctx context.Context, keyword, region, window string) (RelatedQueries, error)
}

// ErrUnsupported is returned for an optional operation the wrapped provider
// does not implement.
var ErrUnsupported = errors.New("operation not supported by provider")

// RealtimeProvider is implemented by providers that report trending stories
// as they break. Observations carry no interest values.
type RealtimeProvider interface {
	FetchRealtimeTrending(ctx context.Context, region, category string, limit int) ([]models.TrendObservation, error)
}

// RegionInterest is the interest of a keyword within one sub-region.
type RegionInterest struct {
	GeoCode string `json:"geo_code"`
	GeoName string `json:"geo_name"`
	Value   int    `json:"value"`
}

// Resolutions accepted by FetchInterestByRegion.
const (
	ResolutionCountry = "COUNTRY"
	ResolutionRegion  = "REGION"
	ResolutionCity    = "CITY"
	ResolutionDMA     = "DMA"
)

// RegionalProvider is implemented by providers that break interest down by
// sub-region.
type RegionalProvider interface {
	FetchInterestByRegion(ctx context.Context, keyword, region, resolution, window string) ([]RegionInterest, error)
}

// Suggestion is a provider's completion for a partial keyword.
type Suggestion struct {
	MID   string `json:"mid"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// SuggestionProvider is implemented by providers that complete partial
// keywords.
type SuggestionProvider interface {
	FetchSuggestions(ctx context.Context, keyword string) ([]Suggestion, error)
}
