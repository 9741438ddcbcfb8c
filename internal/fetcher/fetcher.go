package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
)

// NewLimiter returns a limiter admitting one call every 60s/requestsPerMinute
// with no burst. It returns nil, meaning unlimited, when requestsPerMinute
// is not positive.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Fetcher issues provider calls one at a time, paced by a limiter and
// retried according to a policy.
type Fetcher struct {
	provider Provider
	limiter  *rate.Limiter
	policy   RetryPolicy

	mu sync.Mutex // held for a whole call, including waits and retries
}

// New creates a Fetcher. limiter may be shared between fetchers to enforce
// one ceiling across them; nil disables pacing.
func New(provider Provider, limiter *rate.Limiter, policy RetryPolicy) *Fetcher {
	return &Fetcher{
		provider: provider,
		limiter:  limiter,
		policy:   policy,
	}
}

// Source returns the source code of the wrapped provider.
func (f *Fetcher) Source() string {
	return f.provider.Source()
}

// attempt waits for the limiter and then runs one provider call.
func (f *Fetcher) attempt(ctx context.Context, call func(context.Context) error) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return call(ctx)
}

// do runs call under the retry policy.
func (f *Fetcher) do(ctx context.Context, call func(context.Context) error) error {
	return Retry(ctx, f.policy, IsTransient, func(ctx context.Context) error {
		return f.attempt(ctx, call)
	})
}

// FetchTrending returns trending keywords for a region and category. It never
// returns a nil slice on success.
func (f *Fetcher) FetchTrending(ctx context.Context, region string, category, limit int) ([]models.TrendObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.TrendObservation
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.provider.FetchTrending(ctx, region, category, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trending %s: %w", region, err)
	}
	if out == nil {
		out = []models.TrendObservation{}
	}
	logger.Debug("Fetched %d trending keywords for %s/%s (category %d)", len(out), f.Source(), region, category)
	return out, nil
}

// FetchInterestOverTime returns interest series for any number of keywords,
// splitting them into provider-sized batches. Blank keywords are dropped and
// an empty batch returns an empty map without calling the provider.
func (f *Fetcher) FetchInterestOverTime(ctx context.Context, keywords []string, region, window string) (map[string][]models.TimeseriesPoint, error) {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			cleaned = append(cleaned, k)
		}
	}
	result := make(map[string][]models.TimeseriesPoint, len(cleaned))
	if len(cleaned) == 0 {
		return result, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, batch := range Chunk(cleaned, MaxBatchKeywords) {
		var series map[string][]models.TimeseriesPoint
		err := f.do(ctx, func(ctx context.Context) error {
			var err error
			series, err = f.provider.FetchInterestOverTime(ctx, batch, region, window)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("interest over time %s/%s: %w", region, window, err)
		}
		for k, points := range series {
			result[k] = points
		}
	}
	return result, nil
}

// FetchRelatedQueries returns top and rising queries for keyword.
func (f *Fetcher) FetchRelatedQueries(ctx context.Context, keyword, region, window string) (RelatedQueries, error) {
	if strings.TrimSpace(keyword) == "" {
		return RelatedQueries{}, Permanent(errors.New("keyword must not be empty"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out RelatedQueries
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.provider.FetchRelatedQueries(ctx, keyword, region, window)
		return err
	})
	if err != nil {
		return RelatedQueries{}, fmt.Errorf("related queries %q: %w", keyword, err)
	}
	return out, nil
}

// FetchRealtimeTrending returns realtime trending stories of a region when
// the provider supports them. It never returns a nil slice on success.
func (f *Fetcher) FetchRealtimeTrending(ctx context.Context, region, category string, limit int) ([]models.TrendObservation, error) {
	rp, ok := f.provider.(RealtimeProvider)
	if !ok {
		return nil, fmt.Errorf("realtime trending %s: %w", f.Source(), ErrUnsupported)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.TrendObservation
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = rp.FetchRealtimeTrending(ctx, region, category, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("realtime trending %s: %w", region, err)
	}
	if out == nil {
		out = []models.TrendObservation{}
	}
	return out, nil
}

// FetchInterestByRegion returns the interest of keyword per sub-region of
// region. An empty resolution means ResolutionCountry.
func (f *Fetcher) FetchInterestByRegion(ctx context.Context, keyword, region, resolution, window string) ([]RegionInterest, error) {
	rp, ok := f.provider.(RegionalProvider)
	if !ok {
		return nil, fmt.Errorf("interest by region %s: %w", f.Source(), ErrUnsupported)
	}
	if strings.TrimSpace(keyword) == "" {
		return nil, Permanent(errors.New("keyword must not be empty"))
	}
	if resolution == "" {
		resolution = ResolutionCountry
	}
	switch resolution {
	case ResolutionCountry, ResolutionRegion, ResolutionCity, ResolutionDMA:
	default:
		return nil, Permanent(fmt.Errorf("unknown resolution %q", resolution))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []RegionInterest
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = rp.FetchInterestByRegion(ctx, keyword, region, resolution, window)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("interest by region %q: %w", keyword, err)
	}
	if out == nil {
		out = []RegionInterest{}
	}
	return out, nil
}

// FetchSuggestions returns completions for a partial keyword.
func (f *Fetcher) FetchSuggestions(ctx context.Context, keyword string) ([]Suggestion, error) {
	sp, ok := f.provider.(SuggestionProvider)
	if !ok {
		return nil, fmt.Errorf("suggestions %s: %w", f.Source(), ErrUnsupported)
	}
	if strings.TrimSpace(keyword) == "" {
		return nil, Permanent(errors.New("keyword must not be empty"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Suggestion
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = sp.FetchSuggestions(ctx, keyword)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("suggestions %q: %w", keyword, err)
	}
	if out == nil {
		out = []Suggestion{}
	}
	return out, nil
}

// Chunk splits items into consecutive groups of at most size items.
func Chunk(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
