package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/trendscout/internal/models"
)

// stubProvider records calls and fails the first failures calls with err.
type stubProvider struct {
	mu       sync.Mutex
	calls    []time.Time
	batches  [][]string
	failures int
	err      error
	trending []models.TrendObservation
}

func (s *stubProvider) record() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, time.Now())
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	return nil
}

func (s *stubProvider) Source() string { return models.SourceGoogleTrends }

func (s *stubProvider) FetchTrending(ctx context.Context, region string, category, limit int) ([]models.TrendObservation, error) {
	if err := s.record(); err != nil {
		return nil, err
	}
	return s.trending, nil
}

func (s *stubProvider) FetchInterestOverTime(ctx context.Context, keywords []string, region, window string) (map[string][]models.TimeseriesPoint, error) {
	if err := s.record(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.batches = append(s.batches, append([]string(nil), keywords...))
	s.mu.Unlock()
	out := make(map[string][]models.TimeseriesPoint, len(keywords))
	for _, k := range keywords {
		out[k] = []models.TimeseriesPoint{{Timestamp: time.Now(), Value: 50}}
	}
	return out, nil
}

func (s *stubProvider) FetchRelatedQueries(ctx context.Context, keyword, region, window string) (RelatedQueries, error) {
	if err := s.record(); err != nil {
		return RelatedQueries{}, err
	}
	return RelatedQueries{Top: []string{keyword + " news"}}, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var fastPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestRateLimitSpacing(t *testing.T) {
	// 600 requests per minute is one call every 100ms
	p := &stubProvider{}
	f := New(p, NewLimiter(600), fastPolicy)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := f.FetchTrending(context.Background(), "US", 0, 10); err != nil {
			t.Fatalf("FetchTrending() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 290*time.Millisecond {
		t.Errorf("4 calls took %v, want at least 3 intervals of 100ms", elapsed)
	}
	for i := 1; i < len(p.calls); i++ {
		if gap := p.calls[i].Sub(p.calls[i-1]); gap < 90*time.Millisecond {
			t.Errorf("gap %d = %v, want >= ~100ms", i, gap)
		}
	}
}

func TestRateLimitSharedAcrossGoroutines(t *testing.T) {
	p := &stubProvider{}
	f := New(p, NewLimiter(1200), fastPolicy) // 50ms

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.FetchRelatedQueries(context.Background(), "go", "US", "7d")
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 concurrent calls took %v, want serialized pacing", elapsed)
	}
	if p.callCount() != 3 {
		t.Errorf("calls = %d, want 3", p.callCount())
	}
}

func TestNewLimiterDisabled(t *testing.T) {
	if NewLimiter(0) != nil || NewLimiter(-3) != nil {
		t.Error("non-positive rate should disable limiting")
	}
}

func TestRetryTransient(t *testing.T) {
	p := &stubProvider{failures: 2, err: errors.New("503 service unavailable")}
	f := New(p, nil, fastPolicy)

	if _, err := f.FetchTrending(context.Background(), "US", 0, 5); err != nil {
		t.Fatalf("FetchTrending() error = %v", err)
	}
	if p.callCount() != 3 {
		t.Errorf("calls = %d, want 3", p.callCount())
	}
}

func TestRetryExhausted(t *testing.T) {
	p := &stubProvider{failures: 10, err: errors.New("connection reset")}
	f := New(p, nil, fastPolicy)

	_, err := f.FetchTrending(context.Background(), "GB", 0, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.callCount() != 3 {
		t.Errorf("calls = %d, want 3", p.callCount())
	}
}

func TestRetryPermanentNotRetried(t *testing.T) {
	p := &stubProvider{failures: 1, err: Permanent(errors.New("400 bad request"))}
	f := New(p, nil, fastPolicy)

	_, err := f.FetchRelatedQueries(context.Background(), "go", "US", "24h")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("wrapped permanent error reported as transient")
	}
	if p.callCount() != 1 {
		t.Errorf("calls = %d, want 1", p.callCount())
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, policy, IsTransient, func(context.Context) error {
		attempts++
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{5, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), true},
		{"permanent", Permanent(errors.New("bad")), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestInterestBatching(t *testing.T) {
	p := &stubProvider{}
	f := New(p, nil, fastPolicy)

	keywords := []string{"a", "b", " ", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	got, err := f.FetchInterestOverTime(context.Background(), keywords, "US", "7d")
	if err != nil {
		t.Fatalf("FetchInterestOverTime() error = %v", err)
	}
	if len(got) != 12 {
		t.Errorf("series = %d, want 12", len(got))
	}
	if len(p.batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(p.batches))
	}
	for i, want := range []int{5, 5, 2} {
		if len(p.batches[i]) != want {
			t.Errorf("batch %d size = %d, want %d", i, len(p.batches[i]), want)
		}
	}
}

func TestInterestEmptyBatch(t *testing.T) {
	p := &stubProvider{}
	f := New(p, nil, fastPolicy)

	got, err := f.FetchInterestOverTime(context.Background(), []string{"", "  "}, "US", "7d")
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("got %v, %v; want empty map", got, err)
	}
	if p.callCount() != 0 {
		t.Errorf("provider called %d times", p.callCount())
	}
}

func TestTrendingNeverNil(t *testing.T) {
	f := New(&stubProvider{}, nil, fastPolicy)
	got, err := f.FetchTrending(context.Background(), "US", 0, 5)
	if err != nil || got == nil {
		t.Errorf("got %v, %v; want empty slice", got, err)
	}
}

// fullProvider adds the optional operations to stubProvider.
type fullProvider struct {
	stubProvider
	resolutions []string
}

func (p *fullProvider) FetchRealtimeTrending(ctx context.Context, region, category string, limit int) ([]models.TrendObservation, error) {
	if err := p.record(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *fullProvider) FetchInterestByRegion(ctx context.Context, keyword, region, resolution, window string) ([]RegionInterest, error) {
	if err := p.record(); err != nil {
		return nil, err
	}
	p.resolutions = append(p.resolutions, resolution)
	return []RegionInterest{{GeoCode: "US-CA", GeoName: "California", Value: 100}}, nil
}

func (p *fullProvider) FetchSuggestions(ctx context.Context, keyword string) ([]Suggestion, error) {
	if err := p.record(); err != nil {
		return nil, err
	}
	return []Suggestion{{MID: "/m/09gbxjr", Title: keyword, Type: "Topic"}}, nil
}

func TestOptionalOperationsUnsupported(t *testing.T) {
	p := &stubProvider{}
	f := New(p, nil, fastPolicy)
	ctx := context.Background()

	if _, err := f.FetchRealtimeTrending(ctx, "US", "all", 10); !errors.Is(err, ErrUnsupported) {
		t.Errorf("FetchRealtimeTrending() error = %v, want ErrUnsupported", err)
	}
	if _, err := f.FetchInterestByRegion(ctx, "go", "US", "", "7d"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("FetchInterestByRegion() error = %v, want ErrUnsupported", err)
	}
	if _, err := f.FetchSuggestions(ctx, "go"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("FetchSuggestions() error = %v, want ErrUnsupported", err)
	}
	if p.callCount() != 0 {
		t.Errorf("calls = %d, want 0", p.callCount())
	}
}

func TestOptionalOperations(t *testing.T) {
	p := &fullProvider{stubProvider: stubProvider{failures: 1, err: errors.New("connection reset")}}
	f := New(p, nil, fastPolicy)
	ctx := context.Background()

	suggestions, err := f.FetchSuggestions(ctx, "golang")
	if err != nil {
		t.Fatalf("FetchSuggestions() error = %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].Title != "golang" {
		t.Errorf("suggestions = %+v", suggestions)
	}
	if p.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", p.callCount())
	}

	regions, err := f.FetchInterestByRegion(ctx, "golang", "US", "", "7d")
	if err != nil {
		t.Fatalf("FetchInterestByRegion() error = %v", err)
	}
	if len(regions) != 1 || p.resolutions[0] != ResolutionCountry {
		t.Errorf("regions = %+v, resolutions = %v", regions, p.resolutions)
	}

	_, err = f.FetchInterestByRegion(ctx, "golang", "US", "PLANET", "7d")
	if err == nil || IsTransient(err) {
		t.Errorf("unknown resolution should fail permanently, got %v", err)
	}

	stories, err := f.FetchRealtimeTrending(ctx, "US", "all", 5)
	if err != nil {
		t.Fatalf("FetchRealtimeTrending() error = %v", err)
	}
	if stories == nil {
		t.Error("FetchRealtimeTrending() returned nil slice")
	}
}
