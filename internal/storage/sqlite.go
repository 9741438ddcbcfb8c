package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/trendscout/internal/models"
)

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	sources *sourceCache
}

// OpenSQLite opens (creating if needed) and migrates the database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer to avoid SQLITE_BUSY errors; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)

	if err := NewMigrationRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, sources: newSourceCache()}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- missions ---

// CreateMission inserts m, assigning its ID and timestamps.
func (s *SQLiteStore) CreateMission(ctx context.Context, m *models.Mission) error {
	if m.Status == "" {
		m.Status = models.MissionActive
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mission: %w", err)
	}
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("marshal mission config: %w", err)
	}

	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt, m.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO missions (id, name, description, status, config, total_runs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, string(m.Status), string(cfg), m.TotalRuns,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

const missionColumns = `id, name, description, status, config, total_runs, created_at, updated_at`

func scanMission(row interface{ Scan(...any) error }) (*models.Mission, error) {
	var (
		m                    models.Mission
		status, cfg          string
		createdAt, updatedAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &status, &cfg, &m.TotalRuns, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Status = models.MissionStatus(status)

	parsed, err := models.ParseMissionConfig([]byte(cfg))
	if err != nil {
		return nil, err
	}
	m.Config = parsed
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// GetMission returns the mission with id, or models.ErrNotFound.
func (s *SQLiteStore) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+missionColumns+" FROM missions WHERE id = ?", id)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission %s: %w", id, err)
	}
	return m, nil
}

// ListMissions returns missions with the given status (all when empty),
// oldest first.
func (s *SQLiteStore) ListMissions(ctx context.Context, status models.MissionStatus) ([]models.Mission, error) {
	query := "SELECT " + missionColumns + " FROM missions"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	missions := make([]models.Mission, 0)
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

// SetMissionStatus changes a mission's status.
func (s *SQLiteStore) SetMissionStatus(ctx context.Context, id string, status models.MissionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid mission status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE missions SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update mission %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// --- mission runs ---

// CreateMissionRun records a PENDING run numbered after the mission's
// previous runs, incrementing the mission's run counter in the same
// transaction.
func (s *SQLiteStore) CreateMissionRun(ctx context.Context, missionID, triggeredBy string) (*models.MissionRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var runNumber int
	err = tx.QueryRowContext(ctx,
		"UPDATE missions SET total_runs = total_runs + 1, updated_at = ? WHERE id = ? RETURNING total_runs",
		formatTime(now), missionID,
	).Scan(&runNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", missionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("increment run counter: %w", err)
	}

	run := &models.MissionRun{
		ID:          uuid.New().String(),
		MissionID:   missionID,
		RunNumber:   runNumber,
		Status:      models.RunPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mission_runs (id, mission_id, run_number, status, triggered_by, stats, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.MissionID, run.RunNumber, string(run.Status), run.TriggeredBy, string(stats), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert mission run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mission run: %w", err)
	}
	return run, nil
}

// UpdateMissionRun writes the run's status, timestamps, stats and error.
func (s *SQLiteStore) UpdateMissionRun(ctx context.Context, run *models.MissionRun) error {
	if !run.Status.Valid() {
		return fmt.Errorf("invalid run status %q", run.Status)
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE mission_runs
		SET status = ?, started_at = ?, completed_at = ?, stats = ?, error_message = ?
		WHERE id = ?`,
		string(run.Status), formatTimePtr(run.StartedAt), formatTimePtr(run.CompletedAt),
		string(stats), run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update mission run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mission run %s: %w", run.ID, models.ErrNotFound)
	}
	return nil
}

const runColumns = `id, mission_id, run_number, status, triggered_by, started_at, completed_at, stats, error_message, created_at`

func scanRun(row interface{ Scan(...any) error }) (*models.MissionRun, error) {
	var (
		run                    models.MissionRun
		status, stats, created string
		started, completed     sql.NullString
	)
	if err := row.Scan(&run.ID, &run.MissionID, &run.RunNumber, &status, &run.TriggeredBy,
		&started, &completed, &stats, &run.ErrorMessage, &created); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.StartedAt = parseNullTime(started)
	run.CompletedAt = parseNullTime(completed)
	run.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("decode run stats: %w", err)
	}
	return &run, nil
}

// GetMissionRun returns the run with id, or models.ErrNotFound.
func (s *SQLiteStore) GetMissionRun(ctx context.Context, id string) (*models.MissionRun, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM mission_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission run %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission run %s: %w", id, err)
	}
	return run, nil
}

// ListMissionRuns returns a mission's most recent runs, newest first.
func (s *SQLiteStore) ListMissionRuns(ctx context.Context, missionID string, limit int) ([]models.MissionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM mission_runs WHERE mission_id = ? ORDER BY run_number DESC LIMIT ?",
		missionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list mission runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.MissionRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- keywords and timeseries ---

// SourceID resolves a source code to its row id, caching hits.
func (s *SQLiteStore) SourceID(ctx context.Context, code string) (string, error) {
	if id, ok := s.sources.get(code); ok {
		return id, nil
	}
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sources WHERE code = ?", code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("source %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup source %s: %w", code, err)
	}
	s.sources.put(code, id)
	return id, nil
}

// ListSources returns every source ordered by code.
func (s *SQLiteStore) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, code, name, is_active FROM sources ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.Code, &src.Name, &src.IsActive); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpsertKeyword inserts the keyword or, when its canonical key exists,
// refreshes last_seen_at, merges metadata and replaces the category if one
// is given. It returns the keyword's id either way.
func (s *SQLiteStore) UpsertKeyword(ctx context.Context, kw *models.Keyword) (string, error) {
	if err := validateKeyword(kw); err != nil {
		return "", err
	}
	key := models.NewCanonicalKey(kw.Keyword, kw.Language)

	meta := kw.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal keyword metadata: %w", err)
	}

	var category sql.NullString
	if kw.CategoryID != "" {
		category = sql.NullString{String: kw.CategoryID, Valid: true}
	}

	now := formatTime(time.Now())
	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO keywords (id, keyword, normalized_keyword, language, category_id, metadata, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_keyword, language) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			category_id  = COALESCE(excluded.category_id, keywords.category_id),
			metadata     = json_patch(keywords.metadata, excluded.metadata)
		RETURNING id`,
		uuid.New().String(), kw.Keyword, key.Normalized, key.Language, category, string(metaJSON), now, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert keyword %q: %w", kw.Keyword, err)
	}
	return id, nil
}

// GetKeyword returns a keyword by id.
func (s *SQLiteStore) GetKeyword(ctx context.Context, id string) (*models.Keyword, error) {
	var (
		kw                  models.Keyword
		category            sql.NullString
		meta                string
		firstSeen, lastSeen string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, keyword, normalized_keyword, language, category_id, metadata, first_seen_at, last_seen_at
		FROM keywords WHERE id = ?`, id,
	).Scan(&kw.ID, &kw.Keyword, &kw.Normalized, &kw.Language, &category, &meta, &firstSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("keyword %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get keyword %s: %w", id, err)
	}
	kw.CategoryID = category.String
	kw.FirstSeenAt = parseTime(firstSeen)
	kw.LastSeenAt = parseTime(lastSeen)
	if err := json.Unmarshal([]byte(meta), &kw.Metadata); err != nil {
		return nil, fmt.Errorf("decode keyword metadata: %w", err)
	}
	return &kw, nil
}

// SearchKeywords returns keywords whose normalized text contains query,
// most recently seen first.
func (s *SQLiteStore) SearchKeywords(ctx context.Context, query string, limit int) ([]models.Keyword, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, keyword, normalized_keyword, language, category_id, metadata, first_seen_at, last_seen_at
		FROM keywords
		WHERE normalized_keyword LIKE ? ESCAPE '\'
		ORDER BY last_seen_at DESC, normalized_keyword
		LIMIT ?`, likePattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search keywords: %w", err)
	}
	defer rows.Close()

	keywords := make([]models.Keyword, 0)
	for rows.Next() {
		var (
			kw                  models.Keyword
			category            sql.NullString
			meta                string
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&kw.ID, &kw.Keyword, &kw.Normalized, &kw.Language, &category, &meta, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kw.CategoryID = category.String
		kw.FirstSeenAt = parseTime(firstSeen)
		kw.LastSeenAt = parseTime(lastSeen)
		if err := json.Unmarshal([]byte(meta), &kw.Metadata); err != nil {
			return nil, fmt.Errorf("decode keyword metadata: %w", err)
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

// UpsertTimeseries writes points under key in one transaction, overwriting
// the value, partial flag and metadata of points that already exist. It
// returns the number of points written.
func (s *SQLiteStore) UpsertTimeseries(ctx context.Context, key models.SeriesKey, points []models.TimeseriesPoint) (int, error) {
	if err := validateSeriesKey(key); err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO keyword_timeseries (keyword_id, source_id, region, granularity, ts, interest_value, is_partial, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (keyword_id, source_id, region, granularity, ts) DO UPDATE SET
			interest_value = excluded.interest_value,
			is_partial     = excluded.is_partial,
			metadata       = excluded.metadata`)
	if err != nil {
		return 0, fmt.Errorf("prepare timeseries upsert: %w", err)
	}
	defer stmt.Close()

	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("point %d: %w", i, err)
		}
		meta, err := marshalOptional(p.Metadata)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			key.KeywordID, key.SourceID, key.Region, string(key.Granularity),
			formatTime(p.Timestamp), p.Value, p.IsPartial, meta,
		); err != nil {
			return 0, fmt.Errorf("upsert point %s: %w", formatTime(p.Timestamp), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit timeseries: %w", err)
	}
	return len(points), nil
}

// GetTimeseries returns the points stored under key at or after since, in
// timestamp order. A zero since returns the whole series.
func (s *SQLiteStore) GetTimeseries(ctx context.Context, key models.SeriesKey, since time.Time) ([]models.TimeseriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, interest_value, is_partial, metadata
		FROM keyword_timeseries
		WHERE keyword_id = ? AND source_id = ? AND region = ? AND granularity = ? AND ts >= ?
		ORDER BY ts`,
		key.KeywordID, key.SourceID, key.Region, string(key.Granularity), formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("get timeseries: %w", err)
	}
	defer rows.Close()

	points := make([]models.TimeseriesPoint, 0)
	for rows.Next() {
		var (
			p    models.TimeseriesPoint
			ts   string
			meta sql.NullString
		)
		if err := rows.Scan(&ts, &p.Value, &p.IsPartial, &meta); err != nil {
			return nil, fmt.Errorf("scan timeseries point: %w", err)
		}
		p.Timestamp = parseTime(ts)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode point metadata: %w", err)
			}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// --- results ---

// InsertRunResult stores a ranked result. A second result for the same run,
// keyword and region is rejected.
func (s *SQLiteStore) InsertRunResult(ctx context.Context, r *models.RunResult) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid run result: %w", err)
	}
	related, err := json.Marshal(nonNil(r.RelatedKeywords))
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mission_results (
			id, mission_run_id, keyword_id, source_id, region, time_window,
			current_interest, baseline_interest, peak_interest, trend_score, rank_position,
			related_keywords, metrics, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MissionRunID, r.KeywordID, r.SourceID, r.Region, r.TimeWindow,
		r.CurrentInterest, r.BaselineInterest, r.PeakInterest, r.TrendScore, r.RankPosition,
		string(related), string(metrics), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert result for keyword %s: %w", r.KeywordID, err)
	}
	return nil
}

// ListRunResults returns a run's results in rank order with keyword text
// filled in.
func (s *SQLiteStore) ListRunResults(ctx context.Context, runID string) ([]models.RunResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.mission_run_id, r.keyword_id, k.keyword, r.source_id, r.region, r.time_window,
		       r.current_interest, r.baseline_interest, r.peak_interest, r.trend_score, r.rank_position,
		       r.related_keywords, r.metrics, r.created_at
		FROM mission_results r
		JOIN keywords k ON k.id = r.keyword_id
		WHERE r.mission_run_id = ?
		ORDER BY r.rank_position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	results := make([]models.RunResult, 0)
	for rows.Next() {
		var (
			r                         models.RunResult
			related, metrics, created string
		)
		if err := rows.Scan(&r.ID, &r.MissionRunID, &r.KeywordID, &r.Keyword, &r.SourceID, &r.Region, &r.TimeWindow,
			&r.CurrentInterest, &r.BaselineInterest, &r.PeakInterest, &r.TrendScore, &r.RankPosition,
			&related, &metrics, &created); err != nil {
			return nil, fmt.Errorf("scan run result: %w", err)
		}
		if err := decodeResultJSON(&r, []byte(related), []byte(metrics)); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- helpers ---

// timeLayout is fixed-width so stored timestamps sort and compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime parses a stored timestamp, returning the zero time for
// malformed input.
func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func marshalOptional(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeResultJSON(r *models.RunResult, related, metrics []byte) error {
	if err := json.Unmarshal(related, &r.RelatedKeywords); err != nil {
		return fmt.Errorf("decode related keywords: %w", err)
	}
	if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
		return fmt.Errorf("decode result metrics: %w", err)
	}
	return nil
}
