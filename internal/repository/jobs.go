// Package repository persists the inference-job ledger: one row per media
// request. The ledger backs the capability endpoint's stats and tells the
// retention sweep which output artifacts have expired.
package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusReaped    = "reaped"
)

// Job is one media inference request's ledger row.
type Job struct {
	ID          string
	Kind        string // "image" or "video"
	Status      string
	OutputPath  string
	Frames      int
	Error       string
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

// JobRepository handles ledger storage
type JobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJobRepository opens (or creates) the sqlite ledger
func NewJobRepository(dbPath string, logger *zap.Logger) (*JobRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &JobRepository{
		db:     db,
		logger: logger,
	}

	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Job repository initialized", zap.String("db_path", dbPath))

	return repo, nil
}

// migrate creates tables
func (r *JobRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		output_path TEXT DEFAULT '',
		frames INTEGER DEFAULT 0,
		error_message TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// CreateJob records a freshly allocated request.
func (r *JobRepository) CreateJob(id, kind string) error {
	query := `INSERT INTO jobs (id, kind, status, created_at) VALUES (?, ?, ?, ?)`

	if _, err := r.db.Exec(query, id, kind, StatusRunning, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// CompleteJob marks a request as finished, with its artifact reference for
// video requests.
func (r *JobRepository) CompleteJob(id, outputPath string, frames int) error {
	query := `UPDATE jobs SET status = ?, output_path = ?, frames = ?, completed_at = ? WHERE id = ?`

	if _, err := r.db.Exec(query, StatusCompleted, outputPath, frames, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks a request as failed with its error message.
func (r *JobRepository) FailJob(id, message string) error {
	query := `UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`

	if _, err := r.db.Exec(query, StatusFailed, message, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// ExpiredJobs returns completed video jobs older than ttl whose output
// artifacts are due for reaping.
func (r *JobRepository) ExpiredJobs(ttl time.Duration) ([]Job, error) {
	query := `
		SELECT id, kind, status, output_path, frames, error_message, created_at, completed_at
		FROM jobs
		WHERE status = ? AND kind = 'video' AND completed_at < ?
	`

	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := r.db.Query(query, StatusCompleted, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.Status, &j.OutputPath, &j.Frames,
			&j.Error, &j.CreatedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkReaped records that a job's output artifact has been removed.
func (r *JobRepository) MarkReaped(id string) error {
	query := `UPDATE jobs SET status = ? WHERE id = ?`

	if _, err := r.db.Exec(query, StatusReaped, id); err != nil {
		return fmt.Errorf("failed to mark job reaped: %w", err)
	}
	return nil
}

// GetJob fetches a single ledger row.
func (r *JobRepository) GetJob(id string) (*Job, error) {
	query := `
		SELECT id, kind, status, output_path, frames, error_message, created_at, completed_at
		FROM jobs WHERE id = ?
	`

	var j Job
	err := r.db.QueryRow(query, id).Scan(&j.ID, &j.Kind, &j.Status, &j.OutputPath,
		&j.Frames, &j.Error, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// Stats returns job counts grouped by status.
func (r *JobRepository) Stats() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Close releases the database handle.
func (r *JobRepository) Close() error {
	return r.db.Close()
}
