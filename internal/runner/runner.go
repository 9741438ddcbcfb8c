// Package runner executes missions: it fetches trending candidates for every
// (source, region) pair, enriches and filters them, ranks the survivors and
// persists the ranked results.
//
// A run moves PENDING -> RUNNING -> COMPLETED or FAILED. Failures scoped to
// one pair or one record are recorded in the run's stats and do not stop the
// run; callers must inspect the stats to detect degraded runs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/monitor"
)

// Setup errors. A run that fails with one of these never reached RUNNING.
var (
	ErrMissionNotFound = errors.New("mission not found")
	ErrMissionInactive = errors.New("mission is not active")
	ErrInvalidConfig   = errors.New("invalid mission config")
	ErrRunCreation     = errors.New("failed to create mission run")
	ErrUnknownSource   = errors.New("no fetcher configured for source")
)

// Default enrichment depth: timeseries for the top 5 candidates of a pair,
// related queries for the top 3.
const (
	DefaultTimeseriesTop = 5
	DefaultRelatedTop    = 3
)

// Store is the persistence the runner needs.
type Store interface {
	GetMission(ctx context.Context, id string) (*models.Mission, error)
	ListMissions(ctx context.Context, status models.MissionStatus) ([]models.Mission, error)
	CreateMissionRun(ctx context.Context, missionID, triggeredBy string) (*models.MissionRun, error)
	UpdateMissionRun(ctx context.Context, run *models.MissionRun) error
	SourceID(ctx context.Context, code string) (string, error)
	UpsertKeyword(ctx context.Context, kw *models.Keyword) (string, error)
	UpsertTimeseries(ctx context.Context, key models.SeriesKey, points []models.TimeseriesPoint) (int, error)
	InsertRunResult(ctx context.Context, r *models.RunResult) error
}

// Source is a paced, retrying view of one provider. *fetcher.Fetcher
// satisfies it.
type Source interface {
	Source() string
	FetchTrending(ctx context.Context, region string, category, limit int) ([]models.TrendObservation, error)
	FetchInterestOverTime(ctx context.Context, keywords []string, region, window string) (map[string][]models.TimeseriesPoint, error)
	FetchRelatedQueries(ctx context.Context, keyword, region, window string) (fetcher.RelatedQueries, error)
}

var _ Source = (*fetcher.Fetcher)(nil)

// Notifier is told about every run that reached a terminal state.
type Notifier interface {
	NotifyRun(ctx context.Context, mission *models.Mission, run *models.MissionRun, results []models.RunResult) error
}

// Runner coordinates mission runs.
type Runner struct {
	store     Store
	sources   map[string]Source
	notifiers []Notifier
	now       func() time.Time

	timeseriesTop int
	relatedTop    int
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifiers adds notifiers called after every run.
func WithNotifiers(notifiers ...Notifier) Option {
	return func(r *Runner) {
		r.notifiers = append(r.notifiers, notifiers...)
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithEnrichment sets how many top candidates per pair get a timeseries
// fetch and a related-queries fetch.
func WithEnrichment(timeseriesTop, relatedTop int) Option {
	return func(r *Runner) {
		r.timeseriesTop = timeseriesTop
		r.relatedTop = relatedTop
	}
}

// New creates a Runner over store using one Source per source code.
func New(store Store, sources []Source, opts ...Option) *Runner {
	r := &Runner{
		store:         store,
		sources:       make(map[string]Source, len(sources)),
		now:           time.Now,
		timeseriesTop: DefaultTimeseriesTop,
		relatedTop:    DefaultRelatedTop,
	}
	for _, s := range sources {
		r.sources[s.Source()] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) clock() time.Time {
	return r.now().UTC()
}

// Job is a mission run that has been created but not yet executed.
type Job struct {
	Mission *models.Mission
	Run     *models.MissionRun
}

// Run starts and executes one run of a mission and returns it in its
// terminal state. See Start and Execute.
func (r *Runner) Run(ctx context.Context, missionID, triggeredBy string) (*models.MissionRun, error) {
	job, err := r.Start(ctx, missionID, triggeredBy)
	if err != nil {
		return job.Run, err
	}
	err = r.Execute(ctx, job)
	return job.Run, err
}

// Start checks the mission and creates a PENDING run row for it.
//
// On a setup failure (unknown or inactive mission, invalid config, run row
// creation) the returned job holds a FAILED run that was never persisted,
// and the error wraps the matching sentinel.
func (r *Runner) Start(ctx context.Context, missionID, triggeredBy string) (*Job, error) {
	mission, err := r.store.GetMission(ctx, missionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return r.setupFailure(missionID, triggeredBy, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID))
		}
		return r.setupFailure(missionID, triggeredBy, fmt.Errorf("load mission %s: %w", missionID, err))
	}
	if mission.Status != models.MissionActive {
		return r.setupFailure(missionID, triggeredBy, fmt.Errorf("%w: %s is %s", ErrMissionInactive, missionID, mission.Status))
	}
	if err := mission.Config.Validate(); err != nil {
		return r.setupFailure(missionID, triggeredBy, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	run, err := r.store.CreateMissionRun(ctx, missionID, triggeredBy)
	if err != nil {
		return r.setupFailure(missionID, triggeredBy, fmt.Errorf("%w: %v", ErrRunCreation, err))
	}
	return &Job{Mission: mission, Run: run}, nil
}

// Execute moves a started job to RUNNING, runs the body and saves the
// terminal state. Failures of the body are reported through the run's status
// and error message; the returned error is non-nil only if the run's state
// could not be saved.
func (r *Runner) Execute(ctx context.Context, job *Job) error {
	mission, run := job.Mission, job.Run

	now := r.clock()
	if err := run.Transition(models.RunRunning, now); err != nil {
		return err
	}
	run.Stats.StartedAt = now
	if err := r.store.UpdateMissionRun(ctx, run); err != nil {
		_ = run.Fail(fmt.Sprintf("mark run running: %v", err), r.clock())
		_ = r.finish(ctx, mission, run, nil)
		return fmt.Errorf("mark run %s running: %w", run.ID, err)
	}

	logger.Info("Run %d of mission %q started (trigger: %s)", run.RunNumber, mission.Name, run.TriggeredBy)

	results, bodyErr := r.execute(ctx, mission, run)
	if bodyErr != nil {
		_ = run.Fail(bodyErr.Error(), r.clock())
		logger.Error("Run %d of mission %q failed: %v", run.RunNumber, mission.Name, bodyErr)
	} else {
		_ = run.Transition(models.RunCompleted, r.clock())
		logger.Info("Run %d of mission %q completed: %d scanned, %d matched, %d stored, %d errors",
			run.RunNumber, mission.Name, run.Stats.KeywordsScanned, run.Stats.KeywordsMatched,
			run.Stats.ResultsStored, len(run.Stats.Errors))
	}

	return r.finish(ctx, mission, run, results)
}

// RunActive runs every ACTIVE mission once, one after another. A failing
// mission does not stop the others.
func (r *Runner) RunActive(ctx context.Context, triggeredBy string) ([]*models.MissionRun, error) {
	missions, err := r.store.ListMissions(ctx, models.MissionActive)
	if err != nil {
		return nil, fmt.Errorf("list active missions: %w", err)
	}

	runs := make([]*models.MissionRun, 0, len(missions))
	for i := range missions {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		run, err := r.Run(ctx, missions[i].ID, triggeredBy)
		if err != nil {
			logger.Warn("Mission %q: %v", missions[i].Name, err)
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// setupFailure builds the in-memory FAILED run returned when a run cannot
// be started.
func (r *Runner) setupFailure(missionID, triggeredBy string, err error) (*Job, error) {
	now := r.clock()
	run := &models.MissionRun{
		MissionID:   missionID,
		Status:      models.RunPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	}
	_ = run.Fail(err.Error(), now)
	logger.Warn("Run of mission %s not started: %v", missionID, err)
	return &Job{Run: run}, err
}

// finish flushes the terminal run and notifies. It runs even when ctx was
// cancelled so the final state is never lost.
func (r *Runner) finish(ctx context.Context, mission *models.Mission, run *models.MissionRun, results []models.RunResult) error {
	ctx = context.WithoutCancel(ctx)

	var flushErr error
	if err := r.store.UpdateMissionRun(ctx, run); err != nil {
		logger.Error("Failed to save run %s: %v", run.ID, err)
		flushErr = fmt.Errorf("save run %s: %w", run.ID, err)
	}

	for _, n := range r.notifiers {
		if err := n.NotifyRun(ctx, mission, run, results); err != nil {
			logger.Warn("Failed to notify run %s: %v", run.ID, err)
		}
	}
	return flushErr
}

// execute is the RUNNING body. Panics are turned into errors.
func (r *Runner) execute(ctx context.Context, mission *models.Mission, run *models.MissionRun) (results []models.RunResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Run %s panicked: %v\n%s", run.ID, p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	cfg := &mission.Config
	stats := &run.Stats
	criteria := monitor.CriteriaFor(cfg)

	var accepted []models.TrendObservation
	for _, code := range cfg.Sources {
		src, ok := r.sources[code]
		if !ok {
			stats.AddError("%s: %v", code, ErrUnknownSource)
			logger.Warn("Mission %q: no fetcher for source %s, skipping", mission.Name, code)
			continue
		}
		for _, region := range cfg.Regions {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("run cancelled: %w", err)
			}

			stats.RegionsScanned++
			candidates, err := r.scanPair(ctx, src, region, cfg, stats)
			if err != nil {
				stats.AddError("%s/%s: %v", code, region, err)
				logger.Warn("Mission %q: %s/%s failed: %v", mission.Name, code, region, err)
				continue
			}

			kept := monitor.Filter(candidates, criteria)
			stats.KeywordsMatched += len(kept)
			accepted = append(accepted, kept...)
			logger.Debug("Mission %q: %s/%s kept %d of %d candidates", mission.Name, code, region, len(kept), len(candidates))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}

	ranked := monitor.Rank(accepted, cfg.ResultCap())
	return r.persist(ctx, run, cfg, ranked), nil
}

// scanPair fetches, de-duplicates and enriches the candidates of one
// (source, region) pair. Enrichment failures are recorded and skipped.
func (r *Runner) scanPair(ctx context.Context, src Source, region string, cfg *models.MissionConfig, stats *models.RunStats) ([]models.TrendObservation, error) {
	var candidates []models.TrendObservation
	for _, category := range cfg.Categories {
		trending, err := src.FetchTrending(ctx, region, category, cfg.MaxResultsPerRegion)
		if err != nil {
			return nil, fmt.Errorf("fetch trending (category %d): %w", category, err)
		}
		stats.APICallsMade++
		candidates = append(candidates, trending...)
	}
	candidates = monitor.Dedupe(candidates, cfg.Language)
	stats.KeywordsScanned += len(candidates)

	if cfg.FetchTimeseries {
		r.enrichTimeseries(ctx, src, region, cfg.TimeWindows, candidates, stats)
	}
	if cfg.FetchRelated {
		r.enrichRelated(ctx, src, region, cfg.TimeWindows[0], candidates, stats)
	}

	for i := range candidates {
		if candidates[i].TimeWindow == "" {
			candidates[i].TimeWindow = cfg.TimeWindows[0]
		}
	}
	return candidates, nil
}

// enrichTimeseries fetches a series for the top candidates once per window,
// in order. A later window replaces the series of an earlier one.
func (r *Runner) enrichTimeseries(ctx context.Context, src Source, region string, windows []string, candidates []models.TrendObservation, stats *models.RunStats) {
	top := min(r.timeseriesTop, len(candidates))
	if top <= 0 {
		return
	}
	keywords := make([]string, top)
	for i := range keywords {
		keywords[i] = candidates[i].Keyword
	}

	for _, window := range windows {
		series, err := src.FetchInterestOverTime(ctx, keywords, region, window)
		if err != nil {
			stats.AddError("%s/%s: timeseries %s: %v", src.Source(), region, window, err)
			continue
		}
		stats.APICallsMade++
		for i := 0; i < top; i++ {
			points, ok := series[candidates[i].Keyword]
			if !ok || len(points) == 0 {
				continue
			}
			candidates[i].SetTimeseries(points)
			candidates[i].TimeWindow = window
		}
	}
}

func (r *Runner) enrichRelated(ctx context.Context, src Source, region, window string, candidates []models.TrendObservation, stats *models.RunStats) {
	top := min(r.relatedTop, len(candidates))
	for i := 0; i < top; i++ {
		related, err := src.FetchRelatedQueries(ctx, candidates[i].Keyword, region, window)
		if err != nil {
			stats.AddError("%s/%s: related queries for %q: %v", src.Source(), region, candidates[i].Keyword, err)
			continue
		}
		stats.APICallsMade++
		candidates[i].RelatedQueries = related.Top
		candidates[i].RisingQueries = related.Rising
	}
}

// persist stores the ranked observations. A record that fails to store is
// skipped and recorded; the rest are still written.
func (r *Runner) persist(ctx context.Context, run *models.MissionRun, cfg *models.MissionConfig, ranked []monitor.Ranked) []models.RunResult {
	stored := make([]models.RunResult, 0, len(ranked))
	for i := range ranked {
		obs := &ranked[i].Observation
		result, err := r.persistOne(ctx, run.ID, cfg.Language, obs, ranked[i].Position)
		if err != nil {
			run.Stats.AddError("store %s/%s %q: %v", obs.Source, obs.Region, obs.Keyword, err)
			logger.Warn("Failed to store result %q for run %s: %v", obs.Keyword, run.ID, err)
			continue
		}
		run.Stats.ResultsStored++
		stored = append(stored, result)
	}
	return stored
}

func (r *Runner) persistOne(ctx context.Context, runID, language string, obs *models.TrendObservation, rank int) (models.RunResult, error) {
	keywordID, sourceID, _, err := r.storeObservation(ctx, language, obs)
	if err != nil {
		return models.RunResult{}, err
	}

	result := models.NewRunResult(runID, keywordID, sourceID, obs, rank)
	if err := r.store.InsertRunResult(ctx, &result); err != nil {
		return models.RunResult{}, err
	}
	return result, nil
}

// storeObservation upserts the observation's keyword and, when it has one,
// its series at the granularity of its time window. It returns the keyword
// and source ids and the number of points written.
func (r *Runner) storeObservation(ctx context.Context, language string, obs *models.TrendObservation) (keywordID, sourceID string, points int, err error) {
	sourceID, err = r.store.SourceID(ctx, obs.Source)
	if err != nil {
		return "", "", 0, err
	}

	keywordID, err = r.store.UpsertKeyword(ctx, &models.Keyword{
		Keyword:  obs.Keyword,
		Language: language,
		Metadata: obs.Metadata,
	})
	if err != nil {
		return "", "", 0, err
	}

	if len(obs.Timeseries) > 0 {
		key := models.SeriesKey{
			KeywordID:   keywordID,
			SourceID:    sourceID,
			Region:      obs.Region,
			Granularity: models.GranularityFor(obs.TimeWindow),
		}
		points, err = r.store.UpsertTimeseries(ctx, key, obs.Timeseries)
		if err != nil {
			return "", "", 0, err
		}
	}
	return keywordID, sourceID, points, nil
}
