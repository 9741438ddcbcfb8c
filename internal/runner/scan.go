package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
)

func (r *Runner) source(code string) (Source, error) {
	src, ok := r.sources[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, code)
	}
	return src, nil
}

// QuickScan fetches trending keywords of several regions without a mission.
// Nothing is persisted. A region that fails is logged and skipped.
func (r *Runner) QuickScan(ctx context.Context, source string, regions []string, limit int) ([]models.TrendObservation, error) {
	src, err := r.source(source)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		regions = []string{models.DefaultRegion}
	}

	all := make([]models.TrendObservation, 0)
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		trending, err := src.FetchTrending(ctx, region, 0, limit)
		if err != nil {
			logger.Error("Quick scan of %s/%s failed: %v", source, region, err)
			continue
		}
		all = append(all, trending...)
	}
	return all, nil
}

// AnalyzeKeywords fetches the interest series and related queries of the
// given keywords in one region and window. Keywords are processed in batches;
// a failing batch is logged and skipped. Keywords without data are left out.
// The result keeps the order of keywords.
func (r *Runner) AnalyzeKeywords(ctx context.Context, source string, keywords []string, region, window string) ([]models.TrendObservation, error) {
	src, err := r.source(source)
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = models.DefaultRegion
	}
	if window == "" {
		window = models.Window7Days
	}

	cleaned := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			cleaned = append(cleaned, kw)
		}
	}

	out := make([]models.TrendObservation, 0, len(cleaned))
	for _, batch := range fetcher.Chunk(cleaned, fetcher.MaxBatchKeywords) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		series, err := src.FetchInterestOverTime(ctx, batch, region, window)
		if err != nil {
			logger.Error("Analysis of %v failed: %v", batch, err)
			continue
		}

		for _, kw := range batch {
			points, ok := series[kw]
			if !ok || len(points) == 0 {
				continue
			}
			obs := models.TrendObservation{
				Keyword:    kw,
				Region:     region,
				Source:     src.Source(),
				TimeWindow: window,
			}
			obs.SetTimeseries(points)

			related, err := src.FetchRelatedQueries(ctx, kw, region, window)
			if err != nil {
				logger.Warn("Related queries for %q failed: %v", kw, err)
			} else {
				obs.RelatedQueries = related.Top
				obs.RisingQueries = related.Rising
			}
			out = append(out, obs)
		}
	}
	return out, nil
}

// IngestReport summarises one Ingest call.
type IngestReport struct {
	Source        string   `json:"source"`
	Region        string   `json:"region"`
	TimeWindow    string   `json:"time_window"`
	Fetched       int      `json:"fetched"`
	Stored        int      `json:"stored"`
	PointsWritten int      `json:"points_written"`
	Errors        []string `json:"errors"`
}

// Ingest stores the trending keywords of one region without a mission. The
// top candidates get an interest series for window first. Keyword and series
// writes are idempotent, so repeating an ingest never duplicates rows. A
// failed series fetch or a failed record is reported and skipped; only a
// failed trending fetch fails the call.
func (r *Runner) Ingest(ctx context.Context, source, region string, limit int, window, language string) (*IngestReport, error) {
	src, err := r.source(source)
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = models.DefaultRegion
	}
	if window == "" {
		window = models.Window7Days
	}

	report := &IngestReport{Source: source, Region: region, TimeWindow: window, Errors: []string{}}

	trending, err := src.FetchTrending(ctx, region, 0, limit)
	if err != nil {
		return report, err
	}
	report.Fetched = len(trending)
	if len(trending) == 0 {
		return report, nil
	}

	top := min(r.timeseriesTop, len(trending))
	if top > 0 {
		keywords := make([]string, top)
		for i := range keywords {
			keywords[i] = trending[i].Keyword
		}
		series, err := src.FetchInterestOverTime(ctx, keywords, region, window)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("timeseries %s: %v", window, err))
			logger.Warn("Ingest %s/%s: timeseries fetch failed: %v", source, region, err)
		}
		for i := 0; i < top; i++ {
			if points := series[trending[i].Keyword]; len(points) > 0 {
				trending[i].SetTimeseries(points)
			}
		}
	}

	for i := range trending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		obs := &trending[i]
		obs.TimeWindow = window
		_, _, points, err := r.storeObservation(ctx, language, obs)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("store %q: %v", obs.Keyword, err))
			logger.Warn("Ingest %s/%s: failed to store %q: %v", source, region, obs.Keyword, err)
			continue
		}
		report.Stored++
		report.PointsWritten += points
	}

	logger.Info("Ingested %d of %d trending keywords for %s/%s (%d points)",
		report.Stored, report.Fetched, source, region, report.PointsWritten)
	return report, nil
}
