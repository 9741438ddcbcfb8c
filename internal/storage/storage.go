// Package storage persists keywords, interest timeseries, missions, mission
// runs and ranked run results.
//
// All writes are idempotent where polling may repeat them: keywords are
// upserted by canonical key (normalized text + language) and timeseries
// points by (keyword, source, region, granularity, timestamp), so fetching
// the same data twice never duplicates rows. Run results are insert-only.
//
// Two backends share the same schema: SQLite (modernc.org/sqlite, pure Go)
// for single-node deployments and tests, and PostgreSQL through pgxpool.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/trendscout/internal/models"
)

// Store is the persistence capability used by the run coordinator, the API
// and the CLI.
type Store interface {
	CreateMission(ctx context.Context, m *models.Mission) error
	GetMission(ctx context.Context, id string) (*models.Mission, error)
	ListMissions(ctx context.Context, status models.MissionStatus) ([]models.Mission, error)
	SetMissionStatus(ctx context.Context, id string, status models.MissionStatus) error

	CreateMissionRun(ctx context.Context, missionID, triggeredBy string) (*models.MissionRun, error)
	UpdateMissionRun(ctx context.Context, run *models.MissionRun) error
	GetMissionRun(ctx context.Context, id string) (*models.MissionRun, error)
	ListMissionRuns(ctx context.Context, missionID string, limit int) ([]models.MissionRun, error)

	SourceID(ctx context.Context, code string) (string, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	UpsertKeyword(ctx context.Context, kw *models.Keyword) (string, error)
	GetKeyword(ctx context.Context, id string) (*models.Keyword, error)
	SearchKeywords(ctx context.Context, query string, limit int) ([]models.Keyword, error)
	UpsertTimeseries(ctx context.Context, key models.SeriesKey, points []models.TimeseriesPoint) (int, error)
	GetTimeseries(ctx context.Context, key models.SeriesKey, since time.Time) ([]models.TimeseriesPoint, error)

	InsertRunResult(ctx context.Context, r *models.RunResult) error
	ListRunResults(ctx context.Context, runID string) ([]models.RunResult, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver   string // "sqlite" or "postgres"
	Path     string // SQLite database file, or ":memory:"
	DSN      string // PostgreSQL connection string
	MaxConns int32  // PostgreSQL pool size
}

// Open opens and migrates the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		s, err := OpenSQLite(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := OpenPostgres(ctx, opts.DSN, opts.MaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// sourceCache maps source codes to row ids for the lifetime of a store.
// Misses are never cached so a source added later is still found.
type sourceCache struct {
	mu  sync.RWMutex
	ids map[string]string
}

func newSourceCache() *sourceCache {
	return &sourceCache{ids: make(map[string]string)}
}

func (c *sourceCache) get(code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[code]
	return id, ok
}

func (c *sourceCache) put(code, id string) {
	c.mu.Lock()
	c.ids[code] = id
	c.mu.Unlock()
}

func validateKeyword(kw *models.Keyword) error {
	if strings.TrimSpace(kw.Keyword) == "" {
		return errors.New("keyword must not be empty")
	}
	return nil
}

// defaultSearchLimit applies when SearchKeywords is given no positive limit.
const defaultSearchLimit = 20

// likePattern turns a search query into a LIKE pattern matching normalized
// keywords that contain it. LIKE wildcards in the query match literally.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(models.NormalizeKeyword(query)) + "%"
}

func validateSeriesKey(key models.SeriesKey) error {
	if key.KeywordID == "" || key.SourceID == "" || key.Region == "" {
		return errors.New("series key requires keyword, source and region")
	}
	if key.Granularity == "" {
		return errors.New("series key requires a granularity")
	}
	return nil
}
