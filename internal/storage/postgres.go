package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/rewired-gh/trendscout/internal/models"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db      *pgxpool.Pool
	sources *sourceCache
}

// OpenPostgres connects to dsn, verifies the connection and applies the
// schema.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if err := migratePostgres(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already-connected and migrated pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, sources: newSourceCache()}
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

var postgresMigrations = []struct {
	version int
	name    string
	stmts   []string
}{
	{1, "initial_schema", []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id        TEXT PRIMARY KEY,
			code      TEXT NOT NULL UNIQUE,
			name      TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS keywords (
			id                 TEXT PRIMARY KEY,
			keyword            TEXT NOT NULL,
			normalized_keyword TEXT NOT NULL,
			language           TEXT NOT NULL,
			category_id        TEXT,
			metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
			first_seen_at      TIMESTAMPTZ NOT NULL,
			last_seen_at       TIMESTAMPTZ NOT NULL,
			UNIQUE (normalized_keyword, language)
		)`,
		`CREATE TABLE IF NOT EXISTS keyword_timeseries (
			id             BIGSERIAL PRIMARY KEY,
			keyword_id     TEXT NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
			source_id      TEXT NOT NULL REFERENCES sources(id),
			region         TEXT NOT NULL,
			granularity    TEXT NOT NULL CHECK (granularity IN ('minute', 'hour', 'day', 'week')),
			ts             TIMESTAMPTZ NOT NULL,
			interest_value INTEGER NOT NULL CHECK (interest_value BETWEEN 0 AND 100),
			is_partial     BOOLEAN NOT NULL DEFAULT FALSE,
			metadata       JSONB,
			UNIQUE (keyword_id, source_id, region, granularity, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS missions (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL CHECK (status IN ('ACTIVE', 'INACTIVE', 'ARCHIVED')),
			config      JSONB NOT NULL DEFAULT '{}'::jsonb,
			total_runs  INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mission_runs (
			id            TEXT PRIMARY KEY,
			mission_id    TEXT NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
			run_number    INTEGER NOT NULL,
			status        TEXT NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
			triggered_by  TEXT NOT NULL DEFAULT 'manual',
			started_at    TIMESTAMPTZ,
			completed_at  TIMESTAMPTZ,
			stats         JSONB NOT NULL DEFAULT '{}'::jsonb,
			error_message TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			UNIQUE (mission_id, run_number)
		)`,
		`CREATE TABLE IF NOT EXISTS mission_results (
			id                TEXT PRIMARY KEY,
			mission_run_id    TEXT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
			keyword_id        TEXT NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
			source_id         TEXT NOT NULL REFERENCES sources(id),
			region            TEXT NOT NULL,
			time_window       TEXT NOT NULL DEFAULT '',
			current_interest  INTEGER NOT NULL,
			baseline_interest INTEGER NOT NULL,
			peak_interest     INTEGER NOT NULL,
			trend_score       DOUBLE PRECISION NOT NULL,
			rank_position     INTEGER NOT NULL,
			related_keywords  JSONB NOT NULL DEFAULT '[]'::jsonb,
			metrics           JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at        TIMESTAMPTZ NOT NULL,
			UNIQUE (mission_run_id, keyword_id, region)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_runs_mission ON mission_runs (mission_id, run_number)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_results_run ON mission_results (mission_run_id, rank_position)`,
		`CREATE INDEX IF NOT EXISTS idx_missions_status ON missions (status)`,
	}},
}

// migratePostgres applies pending schema versions, each in its own
// transaction, and seeds the known sources.
func migratePostgres(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range postgresMigrations {
		var applied bool
		if err := db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.version, m.name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	for _, code := range models.SourceCodes {
		if _, err := db.Exec(ctx,
			"INSERT INTO sources (id, code, name) VALUES ($1, $2, $3) ON CONFLICT (code) DO NOTHING",
			uuid.New().String(), code, sourceNames[code],
		); err != nil {
			return fmt.Errorf("seed source %s: %w", code, err)
		}
	}
	return nil
}

// CreateMission inserts m, assigning its ID and timestamps.
func (s *PostgresStore) CreateMission(ctx context.Context, m *models.Mission) error {
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

	_, err = s.db.Exec(ctx, `
		INSERT INTO missions (id, name, description, status, config, total_runs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Name, m.Description, string(m.Status), string(cfg), m.TotalRuns, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

func scanPgMission(row pgx.Row) (*models.Mission, error) {
	var (
		m      models.Mission
		status string
		cfg    []byte
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &status, &cfg, &m.TotalRuns, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = models.MissionStatus(status)
	parsed, err := models.ParseMissionConfig(cfg)
	if err != nil {
		return nil, err
	}
	m.Config = parsed
	return &m, nil
}

// GetMission returns the mission with id, or models.ErrNotFound.
func (s *PostgresStore) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	row := s.db.QueryRow(ctx, "SELECT "+missionColumns+" FROM missions WHERE id = $1", id)
	m, err := scanPgMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission %s: %w", id, err)
	}
	return m, nil
}

// ListMissions returns missions with the given status (all when empty),
// oldest first.
func (s *PostgresStore) ListMissions(ctx context.Context, status models.MissionStatus) ([]models.Mission, error) {
	query := "SELECT " + missionColumns + " FROM missions"
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	missions := make([]models.Mission, 0)
	for rows.Next() {
		m, err := scanPgMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

// SetMissionStatus changes a mission's status.
func (s *PostgresStore) SetMissionStatus(ctx context.Context, id string, status models.MissionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid mission status %q", status)
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE missions SET status = $1, updated_at = NOW() WHERE id = $2", string(status), id,
	)
	if err != nil {
		return fmt.Errorf("update mission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mission %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// CreateMissionRun records a PENDING run numbered after the mission's
// previous runs, incrementing the mission's run counter in the same
// transaction.
func (s *PostgresStore) CreateMissionRun(ctx context.Context, missionID, triggeredBy string) (*models.MissionRun, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	var runNumber int
	err = tx.QueryRow(ctx,
		"UPDATE missions SET total_runs = total_runs + 1, updated_at = $1 WHERE id = $2 RETURNING total_runs",
		now, missionID,
	).Scan(&runNumber)
	if errors.Is(err, pgx.ErrNoRows) {
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

	if _, err := tx.Exec(ctx, `
		INSERT INTO mission_runs (id, mission_id, run_number, status, triggered_by, stats, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.MissionID, run.RunNumber, string(run.Status), run.TriggeredBy, string(stats), now,
	); err != nil {
		return nil, fmt.Errorf("insert mission run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mission run: %w", err)
	}
	return run, nil
}

// UpdateMissionRun writes the run's status, timestamps, stats and error.
func (s *PostgresStore) UpdateMissionRun(ctx context.Context, run *models.MissionRun) error {
	if !run.Status.Valid() {
		return fmt.Errorf("invalid run status %q", run.Status)
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE mission_runs
		SET status = $1, started_at = $2, completed_at = $3, stats = $4, error_message = $5
		WHERE id = $6`,
		string(run.Status), run.StartedAt, run.CompletedAt, string(stats), run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update mission run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mission run %s: %w", run.ID, models.ErrNotFound)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*models.MissionRun, error) {
	var (
		run    models.MissionRun
		status string
		stats  []byte
	)
	if err := row.Scan(&run.ID, &run.MissionID, &run.RunNumber, &status, &run.TriggeredBy,
		&run.StartedAt, &run.CompletedAt, &stats, &run.ErrorMessage, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if err := json.Unmarshal(stats, &run.Stats); err != nil {
		return nil, fmt.Errorf("decode run stats: %w", err)
	}
	return &run, nil
}

// GetMissionRun returns the run with id, or models.ErrNotFound.
func (s *PostgresStore) GetMissionRun(ctx context.Context, id string) (*models.MissionRun, error) {
	row := s.db.QueryRow(ctx, "SELECT "+runColumns+" FROM mission_runs WHERE id = $1", id)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mission run %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission run %s: %w", id, err)
	}
	return run, nil
}

// ListMissionRuns returns a mission's most recent runs, newest first.
func (s *PostgresStore) ListMissionRuns(ctx context.Context, missionID string, limit int) ([]models.MissionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+runColumns+" FROM mission_runs WHERE mission_id = $1 ORDER BY run_number DESC LIMIT $2",
		missionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list mission runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.MissionRun, 0)
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SourceID resolves a source code to its row id, caching hits.
func (s *PostgresStore) SourceID(ctx context.Context, code string) (string, error) {
	if id, ok := s.sources.get(code); ok {
		return id, nil
	}
	var id string
	err := s.db.QueryRow(ctx, "SELECT id FROM sources WHERE code = $1", code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("source %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup source %s: %w", code, err)
	}
	s.sources.put(code, id)
	return id, nil
}

// ListSources returns every source ordered by code.
func (s *PostgresStore) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.db.Query(ctx, "SELECT id, code, name, is_active FROM sources ORDER BY code")
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
func (s *PostgresStore) UpsertKeyword(ctx context.Context, kw *models.Keyword) (string, error) {
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

	var category *string
	if kw.CategoryID != "" {
		category = &kw.CategoryID
	}

	now := time.Now().UTC()
	var id string
	err = s.db.QueryRow(ctx, `
		INSERT INTO keywords (id, keyword, normalized_keyword, language, category_id, metadata, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (normalized_keyword, language) DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			category_id  = COALESCE(EXCLUDED.category_id, keywords.category_id),
			metadata     = keywords.metadata || EXCLUDED.metadata
		RETURNING id`,
		uuid.New().String(), kw.Keyword, key.Normalized, key.Language, category, string(metaJSON), now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert keyword %q: %w", kw.Keyword, err)
	}
	return id, nil
}

const pgKeywordColumns = "id, keyword, normalized_keyword, language, category_id, metadata, first_seen_at, last_seen_at"

func scanPgKeyword(row pgx.Row) (*models.Keyword, error) {
	var (
		kw       models.Keyword
		category *string
		meta     []byte
	)
	if err := row.Scan(&kw.ID, &kw.Keyword, &kw.Normalized, &kw.Language, &category, &meta, &kw.FirstSeenAt, &kw.LastSeenAt); err != nil {
		return nil, err
	}
	if category != nil {
		kw.CategoryID = *category
	}
	if err := json.Unmarshal(meta, &kw.Metadata); err != nil {
		return nil, fmt.Errorf("decode keyword metadata: %w", err)
	}
	return &kw, nil
}

// GetKeyword returns a keyword by id.
func (s *PostgresStore) GetKeyword(ctx context.Context, id string) (*models.Keyword, error) {
	kw, err := scanPgKeyword(s.db.QueryRow(ctx, "SELECT "+pgKeywordColumns+" FROM keywords WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("keyword %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get keyword %s: %w", id, err)
	}
	return kw, nil
}

// SearchKeywords returns keywords whose normalized text contains query,
// most recently seen first.
func (s *PostgresStore) SearchKeywords(ctx context.Context, query string, limit int) ([]models.Keyword, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+pgKeywordColumns+`
		FROM keywords
		WHERE normalized_keyword LIKE $1 ESCAPE '\'
		ORDER BY last_seen_at DESC, normalized_keyword
		LIMIT $2`, likePattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search keywords: %w", err)
	}
	defer rows.Close()

	keywords := make([]models.Keyword, 0)
	for rows.Next() {
		kw, err := scanPgKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		keywords = append(keywords, *kw)
	}
	return keywords, rows.Err()
}

// UpsertTimeseries writes points under key in one batched transaction,
// overwriting the value, partial flag and metadata of existing points.
func (s *PostgresStore) UpsertTimeseries(ctx context.Context, key models.SeriesKey, points []models.TimeseriesPoint) (int, error) {
	if err := validateSeriesKey(key); err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i := range points {
		p := &points[i]
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("point %d: %w", i, err)
		}
		meta, err := marshalOptional(p.Metadata)
		if err != nil {
			return 0, err
		}
		batch.Queue(`
			INSERT INTO keyword_timeseries (keyword_id, source_id, region, granularity, ts, interest_value, is_partial, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (keyword_id, source_id, region, granularity, ts) DO UPDATE SET
				interest_value = EXCLUDED.interest_value,
				is_partial     = EXCLUDED.is_partial,
				metadata       = EXCLUDED.metadata`,
			key.KeywordID, key.SourceID, key.Region, string(key.Granularity),
			p.Timestamp.UTC(), p.Value, p.IsPartial, meta,
		)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert point %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit timeseries: %w", err)
	}
	return len(points), nil
}

// GetTimeseries returns the points stored under key at or after since, in
// timestamp order.
func (s *PostgresStore) GetTimeseries(ctx context.Context, key models.SeriesKey, since time.Time) ([]models.TimeseriesPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ts, interest_value, is_partial, metadata
		FROM keyword_timeseries
		WHERE keyword_id = $1 AND source_id = $2 AND region = $3 AND granularity = $4 AND ts >= $5
		ORDER BY ts`,
		key.KeywordID, key.SourceID, key.Region, string(key.Granularity), since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("get timeseries: %w", err)
	}
	defer rows.Close()

	points := make([]models.TimeseriesPoint, 0)
	for rows.Next() {
		var (
			p    models.TimeseriesPoint
			meta []byte
		)
		if err := rows.Scan(&p.Timestamp, &p.Value, &p.IsPartial, &meta); err != nil {
			return nil, fmt.Errorf("scan timeseries point: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode point metadata: %w", err)
			}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// InsertRunResult stores a ranked result. A second result for the same run,
// keyword and region is rejected.
func (s *PostgresStore) InsertRunResult(ctx context.Context, r *models.RunResult) error {
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

	_, err = s.db.Exec(ctx, `
		INSERT INTO mission_results (
			id, mission_run_id, keyword_id, source_id, region, time_window,
			current_interest, baseline_interest, peak_interest, trend_score, rank_position,
			related_keywords, metrics, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.MissionRunID, r.KeywordID, r.SourceID, r.Region, r.TimeWindow,
		r.CurrentInterest, r.BaselineInterest, r.PeakInterest, r.TrendScore, r.RankPosition,
		string(related), string(metrics), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result for keyword %s: %w", r.KeywordID, err)
	}
	return nil
}

// ListRunResults returns a run's results in rank order with keyword text
// filled in.
func (s *PostgresStore) ListRunResults(ctx context.Context, runID string) ([]models.RunResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.mission_run_id, r.keyword_id, k.keyword, r.source_id, r.region, r.time_window,
		       r.current_interest, r.baseline_interest, r.peak_interest, r.trend_score, r.rank_position,
		       r.related_keywords, r.metrics, r.created_at
		FROM mission_results r
		JOIN keywords k ON k.id = r.keyword_id
		WHERE r.mission_run_id = $1
		ORDER BY r.rank_position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	results := make([]models.RunResult, 0)
	for rows.Next() {
		var (
			r                models.RunResult
			related, metrics []byte
		)
		if err := rows.Scan(&r.ID, &r.MissionRunID, &r.KeywordID, &r.Keyword, &r.SourceID, &r.Region, &r.TimeWindow,
			&r.CurrentInterest, &r.BaselineInterest, &r.PeakInterest, &r.TrendScore, &r.RankPosition,
			&related, &metrics, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run result: %w", err)
		}
		if err := decodeResultJSON(&r, related, metrics); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
