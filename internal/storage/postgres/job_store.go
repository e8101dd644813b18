package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pharosdata/harvester/internal/harvest"
)

// JobStore persists job definitions and their scheduling state.
type JobStore struct {
	pool querier
}

// NewJobStore constructs a store from an existing pool.
func NewJobStore(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

const createJobSQL = `
INSERT INTO jobs (
	id, name, unit_name, cron, interval_minutes, payload,
	retry_max_attempts, retry_backoff_base, enabled,
	next_run_at, last_run_at, last_status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

// CreateJob inserts a job definition.
func (s *JobStore) CreateJob(ctx context.Context, job harvest.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	args := []any{
		job.ID, job.Name, job.UnitName,
		job.Schedule.Cron, job.Schedule.IntervalMinutes, payload,
		job.Retry.MaxAttempts, job.Retry.BackoffBase, job.Enabled,
		job.NextRunAt, job.LastRunAt, string(job.LastStatus),
	}
	if _, err := s.pool.Exec(ctx, createJobSQL, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `
	id, name, unit_name, cron, interval_minutes, payload,
	retry_max_attempts, retry_backoff_base, enabled,
	next_run_at, last_run_at, last_status`

const getJobSQL = `SELECT` + jobColumns + ` FROM jobs WHERE id = $1`

// GetJob fetches one job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, getJobSQL, jobID))
	if err != nil {
		return harvest.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

const listJobsSQL = `SELECT` + jobColumns + ` FROM jobs ORDER BY name ASC`

// ListJobs returns all jobs ordered by name.
func (s *JobStore) ListJobs(ctx context.Context) ([]harvest.Job, error) {
	rows, err := s.pool.Query(ctx, listJobsSQL)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

const listDueSQL = `SELECT` + jobColumns + `
FROM jobs
WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY name ASC`

// ListDue returns enabled jobs whose next run time has passed.
func (s *JobStore) ListDue(ctx context.Context, now time.Time) ([]harvest.Job, error) {
	rows, err := s.pool.Query(ctx, listDueSQL, now)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}
	return jobs, nil
}

const updateScheduleSQL = `
UPDATE jobs SET
	last_run_at = $2,
	last_status = $3,
	next_run_at = $4
WHERE id = $1`

// UpdateSchedule records the outcome of a run and the next due time.
func (s *JobStore) UpdateSchedule(ctx context.Context, jobID string, lastRunAt time.Time, lastStatus harvest.RunStatus, nextRunAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, updateScheduleSQL, jobID, lastRunAt, string(lastStatus), nextRunAt)
	if err != nil {
		return fmt.Errorf("update job schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job schedule: job %s not found", jobID)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (harvest.Job, error) {
	var (
		job        harvest.Job
		payload    []byte
		lastStatus string
	)
	if err := row.Scan(
		&job.ID, &job.Name, &job.UnitName,
		&job.Schedule.Cron, &job.Schedule.IntervalMinutes, &payload,
		&job.Retry.MaxAttempts, &job.Retry.BackoffBase, &job.Enabled,
		&job.NextRunAt, &job.LastRunAt, &lastStatus,
	); err != nil {
		return harvest.Job{}, err
	}
	job.LastStatus = harvest.RunStatus(lastStatus)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return harvest.Job{}, fmt.Errorf("unmarshal job payload: %w", err)
		}
	}
	return job, nil
}
