// Package store keeps the run ledger: one row per stage execution.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// SQLiteStore records runs in a SQLite database using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn and configures WAL mode. Parent
// directories of a file path are created. ":memory:" opens a private
// in-memory database.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if dsn == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	rows_in     INTEGER NOT NULL DEFAULT 0,
	rows_out    INTEGER NOT NULL DEFAULT 0,
	rows_failed INTEGER NOT NULL DEFAULT 0,
	output      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// StartRun inserts a running entry for stage and returns it.
func (s *SQLiteStore) StartRun(ctx context.Context, stage string) (domain.Run, error) {
	run := domain.Run{
		ID:        uuid.New().String(),
		Stage:     stage,
		Status:    domain.RunRunning,
		StartedAt: domain.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Stage, run.Status, formatTime(run.StartedAt),
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("sqlite: insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final status, counts and error of run, stamping
// FinishedAt if it is unset. The updated run is returned.
func (s *SQLiteStore) FinishRun(ctx context.Context, run domain.Run) (domain.Run, error) {
	if run.FinishedAt == nil {
		now := domain.Now()
		run.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, rows_in = ?, rows_out = ?, rows_failed = ?, output = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		run.Status, run.RowsIn, run.RowsOut, run.RowsFailed, run.Output, run.Error, formatTime(*run.FinishedAt), run.ID,
	)
	if err != nil {
		return run, fmt.Errorf("sqlite: finish run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return run, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return run, fmt.Errorf("%w: %s", ErrNotFound, run.ID)
	}
	return run, nil
}

// GetRun loads a single run.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate runs: %w", err)
	}
	return runs, nil
}

const selectRuns = `SELECT id, stage, status, rows_in, rows_out, rows_failed, output, error, started_at, finished_at FROM runs`

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (domain.Run, error) {
	var (
		run      domain.Run
		started  string
		finished sql.NullString
	)
	err := row.Scan(&run.ID, &run.Stage, &run.Status, &run.RowsIn, &run.RowsOut, &run.RowsFailed,
		&run.Output, &run.Error, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("sqlite: scan run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return run, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return run, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// timeLayout has a fixed-width fraction so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
