package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/trendscout/internal/models"
)

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// MigrationRunner applies pending migrations to a SQLite database.
type MigrationRunner struct {
	db         *sql.DB
	migrations []migration
}

// NewMigrationRunner creates a MigrationRunner with all registered migrations.
func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{
		db: db,
		migrations: []migration{
			{Version: 1, Name: "initial_schema", Apply: sqliteSchemaV001},
			{Version: 2, Name: "seed_sources", Apply: sqliteSeedSources},
		},
	}
}

// Run applies all pending migrations in order. It enables WAL mode and
// foreign keys, creates the schema_migrations tracking table, then applies
// each migration that hasn't been recorded yet.
func (r *MigrationRunner) Run(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := r.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range r.migrations {
		applied, err := r.isApplied(ctx, m.Version)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// Version returns the highest applied migration version.
func (r *MigrationRunner) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

func (r *MigrationRunner) isApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// apply executes a migration inside a transaction and records it.
func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

// sqliteSchemaV001 creates every table. Timestamps are fixed-width UTC text so
// equal instants compare and collide as equal strings.
func sqliteSchemaV001(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id        TEXT PRIMARY KEY,
			code      TEXT NOT NULL UNIQUE,
			name      TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS keywords (
			id                 TEXT PRIMARY KEY,
			keyword            TEXT NOT NULL,
			normalized_keyword TEXT NOT NULL,
			language           TEXT NOT NULL,
			category_id        TEXT,
			metadata           TEXT NOT NULL DEFAULT '{}',
			first_seen_at      TEXT NOT NULL,
			last_seen_at       TEXT NOT NULL,
			UNIQUE (normalized_keyword, language)
		)`,

		`CREATE TABLE IF NOT EXISTS keyword_timeseries (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword_id     TEXT NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
			source_id      TEXT NOT NULL REFERENCES sources(id),
			region         TEXT NOT NULL,
			granularity    TEXT NOT NULL CHECK (granularity IN ('minute', 'hour', 'day', 'week')),
			ts             TEXT NOT NULL,
			interest_value INTEGER NOT NULL CHECK (interest_value BETWEEN 0 AND 100),
			is_partial     INTEGER NOT NULL DEFAULT 0,
			metadata       TEXT,
			UNIQUE (keyword_id, source_id, region, granularity, ts)
		)`,

		`CREATE TABLE IF NOT EXISTS missions (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL CHECK (status IN ('ACTIVE', 'INACTIVE', 'ARCHIVED')),
			config      TEXT NOT NULL DEFAULT '{}',
			total_runs  INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS mission_runs (
			id            TEXT PRIMARY KEY,
			mission_id    TEXT NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
			run_number    INTEGER NOT NULL,
			status        TEXT NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
			triggered_by  TEXT NOT NULL DEFAULT 'manual',
			started_at    TEXT,
			completed_at  TEXT,
			stats         TEXT NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
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
			trend_score       REAL NOT NULL,
			rank_position     INTEGER NOT NULL,
			related_keywords  TEXT NOT NULL DEFAULT '[]',
			metrics           TEXT NOT NULL DEFAULT '{}',
			created_at        TEXT NOT NULL,
			UNIQUE (mission_run_id, keyword_id, region)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_timeseries_lookup
			ON keyword_timeseries (keyword_id, source_id, region, granularity, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_runs_mission ON mission_runs (mission_id, run_number)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_results_run ON mission_results (mission_run_id, rank_position)`,
		`CREATE INDEX IF NOT EXISTS idx_missions_status ON missions (status)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// sourceNames are the display names seeded for each known source code.
var sourceNames = map[string]string{
	models.SourceGoogleTrends: "Google Trends",
	models.SourceYouTube:      "YouTube",
	models.SourceX:            "X",
	models.SourceReddit:       "Reddit",
	models.SourceTikTok:       "TikTok",
	models.SourceGoogleNews:   "Google News",
	models.SourceCustom:       "Custom",
}

func sqliteSeedSources(ctx context.Context, tx *sql.Tx) error {
	for _, code := range models.SourceCodes {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO sources (id, code, name) VALUES (?, ?, ?)",
			uuid.New().String(), code, sourceNames[code],
		); err != nil {
			return fmt.Errorf("seed source %s: %w", code, err)
		}
	}
	return nil
}
