// Package history keeps a SQLite record of installer runs and their steps.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	ok          INTEGER NOT NULL,
	canceled    INTEGER NOT NULL DEFAULT 0,
	dry_run     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS steps (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	command     TEXT NOT NULL,
	status      TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	skipped     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// RunRecord is a stored run.
type RunRecord struct {
	ID         string
	Title      string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	Canceled   bool
	DryRun     bool
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// StepRecord is a stored step result.
type StepRecord struct {
	RunID    string
	Index    int
	Name     string
	Command  string
	Status   string
	ExitCode int
	Duration time.Duration
	Error    string
	Skipped  bool
}

// Store is the history database. It implements installer.Recorder.
type Store struct {
	db   *sql.DB
	path string
}

var _ installer.Recorder = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "history.Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("Failed to apply %q: %v", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.Store("History database ready at %s", path)
	return &Store{db: db, path: path}, nil
}

// Path is the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run and its step results.
func (s *Store) Record(ctx context.Context, run *installer.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, title, started_at, finished_at, ok, canceled, dry_run) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Title, run.StartedAt.UnixMilli(), finished.UnixMilli(),
		boolInt(run.Succeeded()), boolInt(run.Canceled), boolInt(run.DryRun),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, res := range run.Results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO steps (run_id, idx, name, command, status, exit_code, duration_ms, error, skipped) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, res.Index, res.Name, res.Command, string(res.Status), res.ExitCode,
			res.Duration.Milliseconds(), errText, boolInt(res.Skipped),
		); err != nil {
			return fmt.Errorf("failed to insert step %d: %w", res.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("Failed to record run %s: %v", run.ID, err)
		return fmt.Errorf("failed to commit run: %w", err)
	}
	logging.Store("Recorded run %s (%s, %d steps)", run.ID, run.Title, len(run.Results))
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, started_at, finished_at, ok, canceled, dry_run FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished int64
		var ok, canceled, dry int
		if err := rows.Scan(&r.ID, &r.Title, &started, &finished, &ok, &canceled, &dry); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.OK, r.Canceled, r.DryRun = ok != 0, canceled != 0, dry != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (RunRecord, error) {
	var r RunRecord
	var started, finished int64
	var ok, canceled, dry int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, started_at, finished_at, ok, canceled, dry_run FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &started, &finished, &ok, &canceled, &dry)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return r, fmt.Errorf("failed to query run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	r.OK, r.Canceled, r.DryRun = ok != 0, canceled != 0, dry != 0
	return r, nil
}

// Steps returns the step results of a run in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, idx, name, command, status, exit_code, duration_ms, error, skipped FROM steps WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var st StepRecord
		var ms int64
		var skipped int
		if err := rows.Scan(&st.RunID, &st.Index, &st.Name, &st.Command, &st.Status, &st.ExitCode, &ms, &st.Error, &skipped); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Duration = time.Duration(ms) * time.Millisecond
		st.Skipped = skipped != 0
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
