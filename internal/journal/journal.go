// Package journal keeps a local SQLite record of cquill invocations: when a
// run started and finished, which versions it applied, and why it failed.
// The cluster history table stays the source of truth for what is applied.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/cquill/internal/migration"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		apply_keyspace TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		applied TEXT NOT NULL DEFAULT '',
		failed_version INTEGER,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at)`,
}

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded invocation.
type Run struct {
	ID            uuid.UUID
	Command       string
	ApplyKeyspace string
	StartedAt     time.Time
	FinishedAt    time.Time
	Applied       []int  // Versions applied by the run, in order
	FailedVersion *int   // Version that failed, if a script failed
	Error         string // Empty for successful runs
}

// Succeeded reports whether the run finished without error.
func (r Run) Succeeded() bool {
	return r.Error == ""
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// WithIDGenerator overrides the run id generator.
func WithIDGenerator(next func() (uuid.UUID, error)) Option {
	return func(j *Journal) {
		j.newID = next
	}
}

// Journal stores runs in SQLite.
type Journal struct {
	db    *sql.DB
	now   func() time.Time
	newID func() (uuid.UUID, error)
}

// Open opens the journal database, creating its file and schema as needed.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Journal, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create journal schema: %w", err)
		}
	}

	j := &Journal{db: db, now: time.Now, newID: uuid.NewV7}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Start returns a new run for command against keyspace. Nothing is written
// until Finish.
func (j *Journal) Start(command, keyspace string) (Run, error) {
	id, err := j.newID()
	if err != nil {
		return Run{}, fmt.Errorf("failed to generate run id: %w", err)
	}
	return Run{
		ID:            id,
		Command:       command,
		ApplyKeyspace: keyspace,
		StartedAt:     j.now().UTC(),
	}, nil
}

// Finish completes run with the outcome of a migration and records it. When
// runErr is a *migration.MigrateError its applied scripts and failed version
// are taken from it.
func (j *Journal) Finish(ctx context.Context, run Run, applied []migration.Script, runErr error) (Run, error) {
	run.FinishedAt = j.now().UTC()
	run.Applied = versionsOf(applied)

	if runErr != nil {
		run.Error = runErr.Error()
		var migrateErr *migration.MigrateError
		if errors.As(runErr, &migrateErr) {
			run.Applied = migrateErr.AppliedVersions()
			if v, ok := migrateErr.FailedVersion(); ok {
				run.FailedVersion = &v
			}
		}
	}

	if err := j.Record(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Record stores a completed run.
func (j *Journal) Record(ctx context.Context, run Run) error {
	var failed sql.NullInt64
	if run.FailedVersion != nil {
		failed = sql.NullInt64{Int64: int64(*run.FailedVersion), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, command, apply_keyspace, started_at, finished_at, applied, failed_version, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(),
		run.Command,
		run.ApplyKeyspace,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		joinVersions(run.Applied),
		failed,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return []Run{}, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, command, apply_keyspace, started_at, finished_at, applied, failed_version, error
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// Get returns the run with id.
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, command, apply_keyspace, started_at, finished_at, applied, failed_version, error
		FROM runs WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run                Run
		id, started, ended string
		applied            string
		failed             sql.NullInt64
	)
	if err := s.Scan(&id, &run.Command, &run.ApplyKeyspace, &started, &ended, &applied, &failed, &run.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}

	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("invalid started_at of run %s: %w", id, err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, ended); err != nil {
		return Run{}, fmt.Errorf("invalid finished_at of run %s: %w", id, err)
	}
	if run.Applied, err = splitVersions(applied); err != nil {
		return Run{}, fmt.Errorf("invalid applied versions of run %s: %w", id, err)
	}
	if failed.Valid {
		v := int(failed.Int64)
		run.FailedVersion = &v
	}
	return run, nil
}

func versionsOf(scripts []migration.Script) []int {
	out := make([]int, len(scripts))
	for i, s := range scripts {
		out[i] = s.Version
	}
	return out
}

func joinVersions(versions []int) string {
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitVersions(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
