package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/runner"
	"github.com/rewired-gh/trendscout/internal/storage"
)

// staticSource returns the same trending list for every region.
type staticSource struct {
	trending []models.TrendObservation
	err      error
}

func (s *staticSource) Source() string { return models.SourceGoogleTrends }

func (s *staticSource) FetchTrending(ctx context.Context, region string, category, limit int) ([]models.TrendObservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.TrendObservation, len(s.trending))
	for i, o := range s.trending {
		o.Region = region
		out[i] = o
	}
	return out, nil
}

func (s *staticSource) FetchInterestOverTime(ctx context.Context, keywords []string, region, window string) (map[string][]models.TimeseriesPoint, error) {
	return map[string][]models.TimeseriesPoint{}, nil
}

func (s *staticSource) FetchRelatedQueries(ctx context.Context, keyword, region, window string) (fetcher.RelatedQueries, error) {
	return fetcher.RelatedQueries{}, nil
}

type testEnv struct {
	store  *storage.SQLiteStore
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T, src *staticSource) *testEnv {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)

	r := runner.New(store, []runner.Source{src})
	srv := NewServer(Options{CorsOrigins: []string{"*"}}, store, r)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		store.Close()
	})
	return &testEnv{store: store, server: srv, http: ts}
}

func (e *testEnv) createMission(t *testing.T, status models.MissionStatus) *models.Mission {
	t.Helper()
	cfg := models.DefaultMissionConfig()
	cfg.FetchTimeseries = false
	cfg.FetchRelated = false
	m := &models.Mission{Name: "api mission", Status: status, Config: cfg}
	require.NoError(t, e.store.CreateMission(context.Background(), m))
	return m
}

func (e *testEnv) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func trendingObs(keyword string, current int) models.TrendObservation {
	o := models.TrendObservation{Keyword: keyword, Source: models.SourceGoogleTrends}
	o.SetInterest(current, 50)
	return o
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &staticSource{})

	var body map[string]string
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestTriggerRunAndReadResults(t *testing.T) {
	env := newTestEnv(t, &staticSource{trending: []models.TrendObservation{
		trendingObs("golang", 100),
		trendingObs("rust", 80),
	}})
	m := env.createMission(t, models.MissionActive)

	var pending models.MissionRun
	code := env.do(t, http.MethodPost, "/api/missions/"+m.ID+"/runs", &pending)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, models.RunPending, pending.Status)
	assert.Equal(t, models.TriggerAPI, pending.TriggeredBy)
	require.NotEmpty(t, pending.ID)

	require.Eventually(t, func() bool {
		var run models.MissionRun
		if env.do(t, http.MethodGet, "/api/runs/"+pending.ID, &run) != http.StatusOK {
			return false
		}
		return run.Status == models.RunCompleted
	}, 5*time.Second, 20*time.Millisecond)

	var results []models.RunResult
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/runs/"+pending.ID+"/results", &results))
	require.Len(t, results, 2)
	assert.Equal(t, "golang", results[0].Keyword)
	assert.Equal(t, 1, results[0].RankPosition)

	var runs []models.MissionRun
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/missions/"+m.ID+"/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, pending.ID, runs[0].ID)
}

func TestTriggerRunErrors(t *testing.T) {
	env := newTestEnv(t, &staticSource{})
	inactive := env.createMission(t, models.MissionInactive)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown mission", "/api/missions/nope/runs", http.StatusNotFound},
		{"inactive mission", "/api/missions/" + inactive.ID + "/runs", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			assert.Equal(t, tt.want, env.do(t, http.MethodPost, tt.path, &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestFailedRunVisible(t *testing.T) {
	env := newTestEnv(t, &staticSource{err: errors.New("provider down")})
	m := env.createMission(t, models.MissionActive)

	var pending models.MissionRun
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/missions/"+m.ID+"/runs", &pending))

	// a failing region does not fail the run
	var run models.MissionRun
	require.Eventually(t, func() bool {
		env.do(t, http.MethodGet, "/api/runs/"+pending.ID, &run)
		return run.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, models.RunCompleted, run.Status)
	require.Len(t, run.Stats.Errors, 1)
	assert.Contains(t, run.Stats.Errors[0], "provider down")
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, &staticSource{})

	tests := []string{
		"/api/runs/missing",
		"/api/runs/missing/results",
		"/api/missions/missing",
		"/api/missions/missing/runs",
	}
	for _, path := range tests {
		var body map[string]string
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, &body), path)
	}
}

func TestListMissions(t *testing.T) {
	env := newTestEnv(t, &staticSource{})
	env.createMission(t, models.MissionActive)
	env.createMission(t, models.MissionInactive)

	var all []models.Mission
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/missions", &all))
	assert.Len(t, all, 2)

	var active []models.Mission
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/missions?status=active", &active))
	require.Len(t, active, 1)
	assert.Equal(t, models.MissionActive, active[0].Status)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/missions?status=bogus", &body))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/missions/x/runs?limit=0", &body))
}
