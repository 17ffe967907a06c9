// Package history persists submitted jobs in sqlite so they survive daemon
// restarts. The in-memory task state store stays the source of truth for
// running jobs.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Status = string

const (
	StatusSubmitted Status = "submitted"
	StatusGenerated Status = "generated"
	StatusSaved     Status = "saved"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("job not found in history")

type Job struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id,omitempty"`
	Status    Status          `json:"status"`
	Params    json.RawMessage `json:"params"`
	Paths     []string        `json:"paths"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	SavedAt   *time.Time      `json:"saved_at,omitempty"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA synchronous = NORMAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Store{db: conn, now: time.Now}, nil
}

func migrate(ctx context.Context, conn *sql.DB, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, result := range results {
		logger.Debug("applied migration", slog.String("source", result.Source.Path), slog.Duration("duration", result.Duration))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordSubmitted(ctx context.Context, jobID string, params any) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, status, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, StatusSubmitted, string(encoded), now, now)
	return err
}

// RecordFailure stores a submission that never got a job id.
func (s *Store) RecordFailure(ctx context.Context, params any, cause error) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, status, params, error, created_at, updated_at) VALUES (NULL, ?, ?, ?, ?, ?)`,
		StatusFailed, string(encoded), cause.Error(), now, now)
	return err
}

func (s *Store) MarkGenerated(ctx context.Context, jobID string) error {
	return s.update(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`, StatusGenerated, s.now().UTC(), jobID)
}

func (s *Store) MarkSaved(ctx context.Context, jobID string, paths []string) error {
	encoded, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	return s.update(ctx, `UPDATE jobs SET status = ?, paths = ?, saved_at = ?, updated_at = ? WHERE job_id = ?`,
		StatusSaved, string(encoded), now, now, jobID)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectJobs = `SELECT id, COALESCE(job_id, ''), status, params, paths, error, created_at, updated_at, saved_at FROM jobs`

func (s *Store) Get(ctx context.Context, jobID string) (Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobs+` WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

// List returns the most recent jobs first.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectJobs+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		job     Job
		params  string
		paths   string
		savedAt sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.JobID, &job.Status, &params, &paths, &job.Error, &job.CreatedAt, &job.UpdatedAt, &savedAt); err != nil {
		return Job{}, err
	}
	job.Params = json.RawMessage(params)
	if err := json.Unmarshal([]byte(paths), &job.Paths); err != nil {
		return Job{}, fmt.Errorf("decode paths for job %d: %w", job.ID, err)
	}
	if savedAt.Valid {
		at := savedAt.Time
		job.SavedAt = &at
	}
	return job, nil
}
