// Package googletrends implements fetcher.Provider against a Google Trends
// JSON gateway.
//
// The gateway exposes these endpoints:
//
//	GET /trending?geo=US&cat=0&limit=20        {"keywords": ["..."]}
//	GET /interest?keywords=a,b&geo=US&timeframe=now+7-d
//	    {"timeline": [{"time": 1700000000, "values": [10, 20], "isPartial": false}]}
//	GET /related?keyword=a&geo=US&timeframe=now+7-d
//	    {"top": [{"query": "...", "value": 100}], "rising": [{"query": "...", "value": "Breakout"}]}
//	GET /realtime?geo=US&cat=all&limit=20
//	    {"stories": [{"title": "...", "entityNames": ["..."], "articles": [{"title": "...", "url": "...", "source": "..."}]}]}
//	GET /region?keyword=a&geo=US&resolution=REGION&timeframe=now+7-d
//	    {"regions": [{"geoCode": "US-CA", "geoName": "California", "value": 100}]}
//	GET /suggestions?keyword=a                 {"suggestions": [{"mid": "...", "title": "...", "type": "..."}]}
//
// Timeline values are positional and follow the order of the keywords
// parameter.
package googletrends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
)

// Gateway timeframe strings for each time window token.
var timeframes = map[string]string{
	models.Window1Hour:   "now 1-H",
	models.Window4Hours:  "now 4-H",
	models.Window24Hours: "now 1-d",
	models.Window7Days:   "now 7-d",
	models.Window30Days:  "today 1-m",
	models.Window90Days:  "today 3-m",
	models.Window12Month: "today 12-m",
}

// Regions whose gateway geo differs from the region code.
var regions = map[string]string{
	"GLOBAL": "",
}

const (
	// maxRelated caps top and rising lists as the gateway's own UI does.
	maxRelated = 20

	// Trending lists carry no interest values; rank i is approximated as
	// 100-3i against a baseline of 50, floored at 0 from rank 35 on.
	trendingTopInterest = 100
	trendingRankStep    = 3
	trendingBaseline    = 50
)

// Timeframe maps a time window token to the gateway's timeframe string.
// Unknown tokens pass through unchanged.
func Timeframe(window string) string {
	if tf, ok := timeframes[window]; ok {
		return tf
	}
	return window
}

// Geo maps a region code to the gateway's geo parameter.
func Geo(region string) string {
	if geo, ok := regions[strings.ToUpper(region)]; ok {
		return geo
	}
	return region
}

// Client provides access to the Google Trends gateway.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(baseURL, language string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var (
	_ fetcher.Provider           = (*Client)(nil)
	_ fetcher.RealtimeProvider   = (*Client)(nil)
	_ fetcher.RegionalProvider   = (*Client)(nil)
	_ fetcher.SuggestionProvider = (*Client)(nil)
)

// Source implements fetcher.Provider.
func (c *Client) Source() string {
	return models.SourceGoogleTrends
}

type trendingResponse struct {
	Keywords []string `json:"keywords"`
}

// FetchTrending retrieves the trending searches of a region.
func (c *Client) FetchTrending(ctx context.Context, region string, category, limit int) ([]models.TrendObservation, error) {
	params := url.Values{}
	params.Set("geo", Geo(region))
	params.Set("cat", strconv.Itoa(category))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp trendingResponse
	if err := c.get(ctx, "/trending", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch trending searches: %w", err)
	}

	keywords := resp.Keywords
	if limit > 0 && len(keywords) > limit {
		keywords = keywords[:limit]
	}

	out := make([]models.TrendObservation, 0, len(keywords))
	for i, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		obs := models.TrendObservation{
			Keyword: kw,
			Region:  region,
			Source:  models.SourceGoogleTrends,
			Metadata: map[string]any{
				"rank":        i + 1,
				"source_type": "daily_trends",
				"category":    category,
			},
		}
		obs.SetInterest(clampInterest(trendingTopInterest-i*trendingRankStep), trendingBaseline)
		out = append(out, obs)
	}
	if len(out) == 0 {
		logger.Warn("No trending searches found for %s", region)
	}
	return out, nil
}

type timelinePoint struct {
	Time      int64 `json:"time"`
	Values    []int `json:"values"`
	IsPartial bool  `json:"isPartial"`
}

type interestResponse struct {
	Timeline []timelinePoint `json:"timeline"`
}

// FetchInterestOverTime retrieves interest series for up to five keywords.
func (c *Client) FetchInterestOverTime(ctx context.Context, keywords []string, region, window string) (map[string][]models.TimeseriesPoint, error) {
	if len(keywords) == 0 {
		return map[string][]models.TimeseriesPoint{}, nil
	}
	if len(keywords) > fetcher.MaxBatchKeywords {
		return nil, fetcher.Permanent(fmt.Errorf("at most %d keywords per request, got %d", fetcher.MaxBatchKeywords, len(keywords)))
	}

	params := url.Values{}
	params.Set("keywords", strings.Join(keywords, ","))
	params.Set("geo", Geo(region))
	params.Set("timeframe", Timeframe(window))

	var resp interestResponse
	if err := c.get(ctx, "/interest", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch interest over time: %w", err)
	}

	out := make(map[string][]models.TimeseriesPoint, len(keywords))
	if len(resp.Timeline) == 0 {
		logger.Warn("No interest over time data returned for %s/%s", region, window)
		return out, nil
	}

	for i, kw := range keywords {
		points := make([]models.TimeseriesPoint, 0, len(resp.Timeline))
		for _, tp := range resp.Timeline {
			if i >= len(tp.Values) {
				continue
			}
			points = append(points, models.TimeseriesPoint{
				Timestamp: time.Unix(tp.Time, 0).UTC(),
				Value:     clampInterest(tp.Values[i]),
				IsPartial: tp.IsPartial,
			})
		}
		if len(points) > 0 {
			out[kw] = points
		}
	}
	return out, nil
}

type relatedEntry struct {
	Query string `json:"query"`
	Value int    `json:"value"`
}

type relatedResponse struct {
	Top    []relatedEntry       `json:"top"`
	Rising []models.RisingQuery `json:"rising"`
}

// FetchRelatedQueries retrieves top and rising queries for one keyword.
func (c *Client) FetchRelatedQueries(ctx context.Context, keyword, region, window string) (fetcher.RelatedQueries, error) {
	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("geo", Geo(region))
	params.Set("timeframe", Timeframe(window))

	var resp relatedResponse
	if err := c.get(ctx, "/related", params, &resp); err != nil {
		return fetcher.RelatedQueries{}, fmt.Errorf("failed to fetch related queries: %w", err)
	}

	out := fetcher.RelatedQueries{
		Top:    make([]string, 0, len(resp.Top)),
		Rising: resp.Rising,
	}
	for _, e := range resp.Top {
		if len(out.Top) == maxRelated {
			break
		}
		out.Top = append(out.Top, e.Query)
	}
	if len(out.Rising) > maxRelated {
		out.Rising = out.Rising[:maxRelated]
	}
	return out, nil
}

type realtimeArticle struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

type realtimeStory struct {
	Title       string            `json:"title"`
	EntityNames []string          `json:"entityNames"`
	Articles    []realtimeArticle `json:"articles"`
}

type realtimeResponse struct {
	Stories []realtimeStory `json:"stories"`
}

// FetchRealtimeTrending retrieves the stories trending right now in a
// region. Stories have no interest values. A region without a geo (GLOBAL)
// is queried as US.
func (c *Client) FetchRealtimeTrending(ctx context.Context, region, category string, limit int) ([]models.TrendObservation, error) {
	geo := Geo(region)
	if geo == "" {
		geo = models.DefaultRegion
	}
	if category == "" {
		category = "all"
	}
	params := url.Values{}
	params.Set("geo", geo)
	params.Set("cat", category)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp realtimeResponse
	if err := c.get(ctx, "/realtime", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch realtime trending: %w", err)
	}

	out := make([]models.TrendObservation, 0, len(resp.Stories))
	for _, story := range resp.Stories {
		if limit > 0 && len(out) == limit {
			break
		}
		title := strings.TrimSpace(story.Title)
		if title == "" && len(story.EntityNames) > 0 {
			title = strings.TrimSpace(story.EntityNames[0])
		}
		if title == "" {
			continue
		}
		out = append(out, models.TrendObservation{
			Keyword: title,
			Region:  region,
			Source:  models.SourceGoogleTrends,
			Metadata: map[string]any{
				"source_type": "realtime_trends",
				"articles":    story.Articles,
			},
		})
	}
	return out, nil
}

type regionResponse struct {
	Regions []struct {
		GeoCode string `json:"geoCode"`
		GeoName string `json:"geoName"`
		Value   int    `json:"value"`
	} `json:"regions"`
}

// FetchInterestByRegion retrieves the interest of one keyword per
// sub-region of region, at the given resolution.
func (c *Client) FetchInterestByRegion(ctx context.Context, keyword, region, resolution, window string) ([]fetcher.RegionInterest, error) {
	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("geo", Geo(region))
	params.Set("resolution", resolution)
	params.Set("timeframe", Timeframe(window))

	var resp regionResponse
	if err := c.get(ctx, "/region", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch interest by region: %w", err)
	}

	out := make([]fetcher.RegionInterest, 0, len(resp.Regions))
	for _, r := range resp.Regions {
		out = append(out, fetcher.RegionInterest{
			GeoCode: r.GeoCode,
			GeoName: r.GeoName,
			Value:   clampInterest(r.Value),
		})
	}
	return out, nil
}

type suggestionsResponse struct {
	Suggestions []fetcher.Suggestion `json:"suggestions"`
}

// FetchSuggestions retrieves completions for a partial keyword.
func (c *Client) FetchSuggestions(ctx context.Context, keyword string) ([]fetcher.Suggestion, error) {
	params := url.Values{}
	params.Set("keyword", keyword)

	var resp suggestionsResponse
	if err := c.get(ctx, "/suggestions", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch suggestions: %w", err)
	}
	if resp.Suggestions == nil {
		return []fetcher.Suggestion{}, nil
	}
	return resp.Suggestions, nil
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// get performs one request and decodes the JSON body into out. Retrying is
// left to the caller; non-retryable failures are marked permanent.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.language != "" {
		params.Set("hl", c.language)
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fetcher.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if statusErr.Transient() {
			return statusErr
		}
		return fetcher.Permanent(statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fetcher.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func clampInterest(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
