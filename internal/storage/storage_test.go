package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/trendscout/internal/models"
)

// openTestStore creates a migrated in-memory store for testing.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestMission(t *testing.T, store *SQLiteStore) *models.Mission {
	t.Helper()
	m := &models.Mission{Name: "ai watch", Config: models.DefaultMissionConfig()}
	require.NoError(t, store.CreateMission(context.Background(), m))
	return m
}

func seriesKey(t *testing.T, store *SQLiteStore, keyword string) models.SeriesKey {
	t.Helper()
	ctx := context.Background()
	kwID, err := store.UpsertKeyword(ctx, &models.Keyword{Keyword: keyword})
	require.NoError(t, err)
	srcID, err := store.SourceID(ctx, models.SourceGoogleTrends)
	require.NoError(t, err)
	return models.SeriesKey{KeywordID: kwID, SourceID: srcID, Region: "US", Granularity: models.GranularityHour}
}

func TestMigrationsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	runner := NewMigrationRunner(store.db)
	require.NoError(t, runner.Run(ctx))
	require.NoError(t, runner.Run(ctx))

	v, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var sources int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM sources").Scan(&sources))
	assert.Equal(t, len(models.SourceCodes), sources)
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trendscout.db")
	store, err := Open(context.Background(), Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// reopening applies no migrations twice
	store, err = Open(context.Background(), Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), Options{Driver: "mysql"})
	assert.Error(t, err)
}

func TestSourceIDCached(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.SourceID(ctx, models.SourceGoogleTrends)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	cached, ok := store.sources.get(models.SourceGoogleTrends)
	assert.True(t, ok)
	assert.Equal(t, id, cached)

	_, err = store.SourceID(ctx, "MYSPACE")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, ok = store.sources.get("MYSPACE")
	assert.False(t, ok, "misses must not be cached")
}

func TestUpsertKeywordCanonical(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertKeyword(ctx, &models.Keyword{
		Keyword:  "ChatGPT",
		Metadata: map[string]any{"rank": 1, "origin": "trending"},
	})
	require.NoError(t, err)

	second, err := store.UpsertKeyword(ctx, &models.Keyword{
		Keyword:    "  chatgpt ",
		CategoryID: "tech",
		Metadata:   map[string]any{"rank": 4},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "same canonical key must map to one row")

	other, err := store.UpsertKeyword(ctx, &models.Keyword{Keyword: "chatgpt", Language: "de-DE"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "language is part of identity")

	kw, err := store.GetKeyword(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "ChatGPT", kw.Keyword, "original casing kept")
	assert.Equal(t, "chatgpt", kw.Normalized)
	assert.Equal(t, "tech", kw.CategoryID)
	assert.Equal(t, float64(4), kw.Metadata["rank"])
	assert.Equal(t, "trending", kw.Metadata["origin"], "metadata is merged, not replaced")

	// no category given keeps the stored one
	_, err = store.UpsertKeyword(ctx, &models.Keyword{Keyword: "CHATGPT"})
	require.NoError(t, err)
	kw, err = store.GetKeyword(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "tech", kw.CategoryID)

	var rows int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM keywords").Scan(&rows))
	assert.Equal(t, 2, rows)

	_, err = store.UpsertKeyword(ctx, &models.Keyword{Keyword: "   "})
	assert.Error(t, err)
}

func TestUpsertTimeseriesIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := seriesKey(t, store, "golang")

	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	n, err := store.UpsertTimeseries(ctx, key, []models.TimeseriesPoint{{Timestamp: ts, Value: 40, IsPartial: true}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// same instant in another zone is the same key
	_, err = store.UpsertTimeseries(ctx, key, []models.TimeseriesPoint{{Timestamp: ts.In(time.FixedZone("X", 3600)), Value: 55}})
	require.NoError(t, err)

	points, err := store.GetTimeseries(ctx, key, time.Time{})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 55, points[0].Value)
	assert.False(t, points[0].IsPartial)
	assert.True(t, points[0].Timestamp.Equal(ts))
}

func TestGetTimeseriesOrderAndSince(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := seriesKey(t, store, "rust")

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	points := []models.TimeseriesPoint{
		{Timestamp: base.Add(2 * time.Hour), Value: 30, Metadata: map[string]any{"window": "7d"}},
		{Timestamp: base, Value: 10},
		{Timestamp: base.Add(time.Hour + 500*time.Millisecond), Value: 20},
	}
	_, err := store.UpsertTimeseries(ctx, key, points)
	require.NoError(t, err)

	got, err := store.GetTimeseries(ctx, key, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{got[0].Value, got[1].Value, got[2].Value})
	assert.Equal(t, "7d", got[2].Metadata["window"])

	since, err := store.GetTimeseries(ctx, key, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, since, 2)

	hourly := key
	hourly.Granularity = models.GranularityDay
	none, err := store.GetTimeseries(ctx, hourly, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsertTimeseriesRejectsBadPoint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := seriesKey(t, store, "bad")

	_, err := store.UpsertTimeseries(ctx, key, []models.TimeseriesPoint{
		{Timestamp: time.Now(), Value: 10},
		{Timestamp: time.Now().Add(time.Minute), Value: 140},
	})
	require.Error(t, err)

	got, err := store.GetTimeseries(ctx, key, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got, "batch is all-or-nothing")

	_, err = store.UpsertTimeseries(ctx, models.SeriesKey{}, []models.TimeseriesPoint{{Timestamp: time.Now()}})
	assert.Error(t, err)
}

func TestMissionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := createTestMission(t, store)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, models.MissionActive, m.Status)

	got, err := store.GetMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "ai watch", got.Name)
	assert.Equal(t, []string{"US"}, got.Config.Regions)

	_, err = store.GetMission(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	other := &models.Mission{Name: "paused", Status: models.MissionInactive, Config: models.DefaultMissionConfig()}
	require.NoError(t, store.CreateMission(ctx, other))

	active, err := store.ListMissions(ctx, models.MissionActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, m.ID, active[0].ID)

	all, err := store.ListMissions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.SetMissionStatus(ctx, other.ID, models.MissionActive))
	active, err = store.ListMissions(ctx, models.MissionActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	assert.Error(t, store.SetMissionStatus(ctx, other.ID, "PAUSED"))
	assert.True(t, errors.Is(store.SetMissionStatus(ctx, "missing", models.MissionArchived), models.ErrNotFound))
}

func TestMissionRunNumbering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m := createTestMission(t, store)

	first, err := store.CreateMissionRun(ctx, m.ID, models.TriggerManual)
	require.NoError(t, err)
	second, err := store.CreateMissionRun(ctx, m.ID, models.TriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, 1, first.RunNumber)
	assert.Equal(t, 2, second.RunNumber)
	assert.Equal(t, models.RunPending, second.Status)

	got, err := store.GetMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalRuns)

	_, err = store.CreateMissionRun(ctx, "missing", models.TriggerManual)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	runs, err := store.ListMissionRuns(ctx, m.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
}

func TestUpdateMissionRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m := createTestMission(t, store)

	run, err := store.CreateMissionRun(ctx, m.ID, models.TriggerManual)
	require.NoError(t, err)

	start := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, run.Transition(models.RunRunning, start))
	run.Stats.StartedAt = start
	require.NoError(t, store.UpdateMissionRun(ctx, run))

	run.Stats.KeywordsScanned = 12
	run.Stats.AddError("GOOGLE_TRENDS/GB: boom")
	require.NoError(t, run.Transition(models.RunCompleted, start.Add(3*time.Second)))
	require.NoError(t, store.UpdateMissionRun(ctx, run))

	got, err := store.GetMissionRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(start.Add(3*time.Second)))
	assert.Equal(t, 12, got.Stats.KeywordsScanned)
	assert.Equal(t, []string{"GOOGLE_TRENDS/GB: boom"}, got.Stats.Errors)
	assert.Equal(t, int64(3000), got.Stats.DurationMS())

	missing := &models.MissionRun{ID: "missing", Status: models.RunFailed}
	assert.True(t, errors.Is(store.UpdateMissionRun(ctx, missing), models.ErrNotFound))
}

func TestRunResultsInsertOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m := createTestMission(t, store)
	run, err := store.CreateMissionRun(ctx, m.ID, models.TriggerManual)
	require.NoError(t, err)

	keyA := seriesKey(t, store, "alpha")
	keyB := seriesKey(t, store, "beta")

	resB := &models.RunResult{
		MissionRunID: run.ID, KeywordID: keyB.KeywordID, SourceID: keyB.SourceID, Region: "US",
		TrendScore: 10, RankPosition: 2, RelatedKeywords: []string{"beta test"},
		Metrics: models.ResultMetrics{RisingQueries: []models.RisingQuery{{Query: "beta 2", Breakout: true}}},
	}
	resA := &models.RunResult{
		MissionRunID: run.ID, KeywordID: keyA.KeywordID, SourceID: keyA.SourceID, Region: "US",
		TimeWindow: "7d", TrendScore: 90, RankPosition: 1, PeakInterest: 88,
	}
	require.NoError(t, store.InsertRunResult(ctx, resB))
	require.NoError(t, store.InsertRunResult(ctx, resA))

	dup := *resA
	dup.ID = ""
	assert.Error(t, store.InsertRunResult(ctx, &dup), "results are never written twice")

	results, err := store.ListRunResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Keyword)
	assert.Equal(t, 1, results[0].RankPosition)
	assert.Equal(t, 88, results[0].PeakInterest)
	assert.Equal(t, "7d", results[0].TimeWindow)
	assert.Equal(t, []string{}, results[0].RelatedKeywords)
	assert.Equal(t, []string{"beta test"}, results[1].RelatedKeywords)
	require.Len(t, results[1].Metrics.RisingQueries, 1)
	assert.True(t, results[1].Metrics.RisingQueries[0].Breakout)
}

func TestSearchKeywords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, kw := range []string{"Machine Learning", "learning rust", "Rust 2024", "100%_legit"} {
		_, err := store.UpsertKeyword(ctx, &models.Keyword{Keyword: kw})
		require.NoError(t, err)
	}

	found, err := store.SearchKeywords(ctx, "  LEARNING ", 0)
	require.NoError(t, err)
	var texts []string
	for _, kw := range found {
		texts = append(texts, kw.Keyword)
	}
	assert.ElementsMatch(t, []string{"Machine Learning", "learning rust"}, texts)

	found, err = store.SearchKeywords(ctx, "rust", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// wildcards in the query match literally
	found, err = store.SearchKeywords(ctx, "%_", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "100%_legit", found[0].Keyword)

	found, err = store.SearchKeywords(ctx, "python", 10)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)
}

func TestListSources(t *testing.T) {
	store := openTestStore(t)

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, len(models.SourceCodes))

	byCode := make(map[string]models.Source, len(sources))
	for _, src := range sources {
		byCode[src.Code] = src
	}
	gt := byCode[models.SourceGoogleTrends]
	assert.Equal(t, "Google Trends", gt.Name)
	assert.True(t, gt.IsActive)
	assert.NotEmpty(t, gt.ID)
	assert.True(t, sources[0].Code < sources[1].Code, "ordered by code")
}

// openPostgresStore connects to the database named by
// TRENDSCOUT_TEST_POSTGRES_DSN and skips the test when it is unset.
func openPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TRENDSCOUT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRENDSCOUT_TEST_POSTGRES_DSN not set")
	}
	store, err := OpenPostgres(context.Background(), dsn, 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresKeywordUpsert(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()
	word := "pg-" + uuid.NewString()

	first, err := store.UpsertKeyword(ctx, &models.Keyword{
		Keyword:  word,
		Metadata: map[string]any{"rank": 1, "origin": "trending"},
	})
	require.NoError(t, err)
	second, err := store.UpsertKeyword(ctx, &models.Keyword{Keyword: "  " + word + " ", Metadata: map[string]any{"rank": 3}})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	kw, err := store.GetKeyword(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, float64(3), kw.Metadata["rank"])
	assert.Equal(t, "trending", kw.Metadata["origin"], "jsonb metadata is merged")

	found, err := store.SearchKeywords(ctx, word, 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first, found[0].ID)

	sources, err := store.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, len(models.SourceCodes))
}

func TestPostgresTimeseriesUpsert(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()

	kwID, err := store.UpsertKeyword(ctx, &models.Keyword{Keyword: "pg-" + uuid.NewString()})
	require.NoError(t, err)
	srcID, err := store.SourceID(ctx, models.SourceGoogleTrends)
	require.NoError(t, err)
	key := models.SeriesKey{KeywordID: kwID, SourceID: srcID, Region: "US", Granularity: models.GranularityHour}

	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	points := []models.TimeseriesPoint{
		{Timestamp: ts, Value: 40, IsPartial: true},
		{Timestamp: ts.Add(time.Hour), Value: 45},
	}
	_, err = store.UpsertTimeseries(ctx, key, points)
	require.NoError(t, err)

	points[0].Value = 55
	points[0].IsPartial = false
	_, err = store.UpsertTimeseries(ctx, key, points)
	require.NoError(t, err)

	got, err := store.GetTimeseries(ctx, key, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 55, got[0].Value)
	assert.False(t, got[0].IsPartial)
	assert.True(t, got[0].Timestamp.Equal(ts))
	assert.Equal(t, 45, got[1].Value)
}

func TestPostgresRunResultsInsertOnly(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()

	m := &models.Mission{Name: "pg mission", Config: models.DefaultMissionConfig()}
	require.NoError(t, store.CreateMission(ctx, m))
	run, err := store.CreateMissionRun(ctx, m.ID, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, run.RunNumber)

	kwID, err := store.UpsertKeyword(ctx, &models.Keyword{Keyword: "pg-" + uuid.NewString()})
	require.NoError(t, err)
	srcID, err := store.SourceID(ctx, models.SourceGoogleTrends)
	require.NoError(t, err)

	res := &models.RunResult{
		MissionRunID: run.ID, KeywordID: kwID, SourceID: srcID, Region: "US",
		TrendScore: 42.5, RankPosition: 1, RelatedKeywords: []string{"related"},
	}
	require.NoError(t, store.InsertRunResult(ctx, res))

	dup := *res
	dup.ID = ""
	assert.Error(t, store.InsertRunResult(ctx, &dup), "results are never written twice")

	results, err := store.ListRunResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 42.5, results[0].TrendScore)
	assert.Equal(t, []string{"related"}, results[0].RelatedKeywords)
}
