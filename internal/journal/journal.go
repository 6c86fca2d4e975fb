// Package journal keeps a local SQLite record of pipeline runs and their phases.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of a run or phase.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Run is one CLI operation.
type Run struct {
	ID         string     `json:"id"`
	Op         string     `json:"op"`
	Status     Status     `json:"status"`
	Summary    string     `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration is how long the run took, or zero while it is still running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Phase is one recorded step of a run.
type Phase struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal records runs. Implementations must be safe to call after a
// failed operation; recording never changes the operation's outcome.
type Journal interface {
	Begin(ctx context.Context, op string) (*Run, error)
	RecordPhase(ctx context.Context, runID, name string, status Status, detail string) error
	Complete(ctx context.Context, runID string, summary any) error
	Fail(ctx context.Context, runID string, cause error) error
	Recent(ctx context.Context, limit int) ([]Run, error)
	Phases(ctx context.Context, runID string) ([]Phase, error)
	Close() error
}

// Open returns a SQLite journal at path with its schema applied, or Nop when
// path is empty.
func Open(ctx context.Context, path string) (Journal, error) {
	if path == "" {
		return Nop{}, nil
	}
	j, err := NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		j.Close() //nolint:errcheck
		return nil, err
	}
	return j, nil
}

// SQLite implements Journal using modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "journal: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "journal: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	op          TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

// Migrate creates the journal tables if needed.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return eris.Wrap(err, "journal: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Begin(ctx context.Context, op string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Op:        op,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, op, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Op, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "journal: insert run %s", op)
	}
	return run, nil
}

func (s *SQLite) RecordPhase(ctx context.Context, runID, name string, status Status, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, detail, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, name, string(status), nullable(detail), time.Now().UTC(),
	)
	return eris.Wrapf(err, "journal: record phase %s for run %s", name, runID)
}

func (s *SQLite) Complete(ctx context.Context, runID string, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "journal: marshal summary")
	}
	return s.finish(ctx, runID, StatusComplete, string(data), "")
}

func (s *SQLite) Fail(ctx context.Context, runID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, runID, StatusFailed, "", msg)
}

func (s *SQLite) finish(ctx context.Context, runID string, status Status, summary, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), nullable(summary), nullable(errMsg), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "journal: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// Recent lists the newest runs first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op, status, summary, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "journal: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var (
			r               Run
			status          string
			summary, errMsg sql.NullString
			finishedAt      sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Op, &status, &summary, &errMsg, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "journal: scan run")
		}
		r.Status = Status(status)
		r.Summary = summary.String
		r.Error = errMsg.String
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "journal: iterate runs")
}

// Phases lists a run's phases in the order they were recorded.
func (s *SQLite) Phases(ctx context.Context, runID string) ([]Phase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, detail, recorded_at
		FROM run_phases WHERE run_id = ? ORDER BY recorded_at, rowid`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "journal: list phases for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var phases []Phase
	for rows.Next() {
		var (
			p      Phase
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &status, &detail, &p.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "journal: scan phase")
		}
		p.Status = Status(status)
		p.Detail = detail.String
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "journal: iterate phases")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "journal: rows affected")
	}
	if n == 0 {
		return eris.Errorf("journal: %s not found: %s", entity, id)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Nop discards everything. It is used when no journal path is configured.
type Nop struct{}

func (Nop) Begin(_ context.Context, op string) (*Run, error) {
	return &Run{ID: uuid.New().String(), Op: op, Status: StatusRunning, StartedAt: time.Now().UTC()}, nil
}

func (Nop) RecordPhase(context.Context, string, string, Status, string) error { return nil }
func (Nop) Complete(context.Context, string, any) error { return nil }
func (Nop) Fail(context.Context, string, error) error { return nil }
func (Nop) Recent(context.Context, int) ([]Run, error) { return nil, nil }
func (Nop) Phases(context.Context, string) ([]Phase, error) { return nil, nil }
func (Nop) Close() error { return nil }
