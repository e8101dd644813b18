package postgres

import (
	"context"
	"fmt"

	"github.com/pharosdata/harvester/internal/harvest"
)

// RunStore persists pipeline runs and per-unit details.
type RunStore struct {
	pool querier
}

// NewRunStore constructs a store from an existing pool.
func NewRunStore(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

const createRunSQL = `
INSERT INTO pipeline_runs (
	id, run_type, status, total_units, successful_units, failed_units,
	total_records, started_at, finished_at, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run harvest.PipelineRun) error {
	args := []any{
		run.ID, string(run.RunType), string(run.Status),
		run.TotalUnits, run.SuccessfulUnits, run.FailedUnits,
		run.TotalRecords, run.StartedAt, run.FinishedAt, run.ErrorMessage,
	}
	if _, err := s.pool.Exec(ctx, createRunSQL, args...); err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	return nil
}

const finalizeRunSQL = `
UPDATE pipeline_runs SET
	status = $2,
	total_units = $3,
	successful_units = $4,
	failed_units = $5,
	total_records = $6,
	finished_at = $7,
	error_message = $8
WHERE id = $1`

// FinalizeRun writes the terminal state of a run.
func (s *RunStore) FinalizeRun(ctx context.Context, run harvest.PipelineRun) error {
	args := []any{
		run.ID, string(run.Status),
		run.TotalUnits, run.SuccessfulUnits, run.FailedUnits,
		run.TotalRecords, run.FinishedAt, run.ErrorMessage,
	}
	tag, err := s.pool.Exec(ctx, finalizeRunSQL, args...)
	if err != nil {
		return fmt.Errorf("finalize pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize pipeline run: run %s not found", run.ID)
	}
	return nil
}

const addDetailSQL = `
INSERT INTO run_details (
	id, run_id, unit_name, source_id, status, started_at, finished_at,
	duration_ms, attempt_number, max_attempts, result_count,
	error_type, error_message, log_ref, config_snapshot
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

// AddDetail appends one per-unit attempt row.
func (s *RunStore) AddDetail(ctx context.Context, detail harvest.RunDetail) error {
	args := []any{
		detail.ID, detail.RunID, detail.UnitName, detail.SourceID,
		string(detail.Status), detail.StartedAt, detail.FinishedAt,
		detail.DurationMs, detail.AttemptNumber, detail.MaxAttempts,
		detail.ResultCount, string(detail.ErrorType), detail.ErrorMessage,
		detail.LogRef, detail.ConfigSnapshot,
	}
	if _, err := s.pool.Exec(ctx, addDetailSQL, args...); err != nil {
		return fmt.Errorf("insert run detail: %w", err)
	}
	return nil
}

const runColumns = `
	id, run_type, status, total_units, successful_units, failed_units,
	total_records, started_at, finished_at, error_message`

const getRunSQL = `SELECT` + runColumns + ` FROM pipeline_runs WHERE id = $1`

// GetRun fetches a run by id.
func (s *RunStore) GetRun(ctx context.Context, runID string) (harvest.PipelineRun, error) {
	var (
		run             harvest.PipelineRun
		runType, status string
	)
	err := s.pool.QueryRow(ctx, getRunSQL, runID).Scan(
		&run.ID, &runType, &status,
		&run.TotalUnits, &run.SuccessfulUnits, &run.FailedUnits,
		&run.TotalRecords, &run.StartedAt, &run.FinishedAt, &run.ErrorMessage,
	)
	if err != nil {
		return harvest.PipelineRun{}, fmt.Errorf("get pipeline run %s: %w", runID, err)
	}
	run.RunType = harvest.RunType(runType)
	run.Status = harvest.RunStatus(status)
	return run, nil
}

const listRunsSQL = `SELECT` + runColumns + `
FROM pipeline_runs
ORDER BY started_at DESC
LIMIT $1 OFFSET $2`

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]harvest.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listRunsSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []harvest.PipelineRun
	for rows.Next() {
		var (
			run             harvest.PipelineRun
			runType, status string
		)
		if err := rows.Scan(
			&run.ID, &runType, &status,
			&run.TotalUnits, &run.SuccessfulUnits, &run.FailedUnits,
			&run.TotalRecords, &run.StartedAt, &run.FinishedAt, &run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		run.RunType = harvest.RunType(runType)
		run.Status = harvest.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline runs: %w", err)
	}
	return runs, nil
}

const detailColumns = `
	id, run_id, unit_name, source_id, status, started_at, finished_at,
	duration_ms, attempt_number, max_attempts, result_count,
	error_type, error_message, log_ref, config_snapshot`

const getDetailSQL = `SELECT` + detailColumns + ` FROM run_details WHERE id = $1`

// GetDetail fetches one detail row by id.
func (s *RunStore) GetDetail(ctx context.Context, detailID string) (harvest.RunDetail, error) {
	var (
		detail            harvest.RunDetail
		status, errorType string
	)
	err := s.pool.QueryRow(ctx, getDetailSQL, detailID).Scan(
		&detail.ID, &detail.RunID, &detail.UnitName, &detail.SourceID,
		&status, &detail.StartedAt, &detail.FinishedAt,
		&detail.DurationMs, &detail.AttemptNumber, &detail.MaxAttempts,
		&detail.ResultCount, &errorType, &detail.ErrorMessage,
		&detail.LogRef, &detail.ConfigSnapshot,
	)
	if err != nil {
		return harvest.RunDetail{}, fmt.Errorf("get run detail %s: %w", detailID, err)
	}
	detail.Status = harvest.RunStatus(status)
	detail.ErrorType = harvest.ErrorType(errorType)
	return detail, nil
}

const listDetailsSQL = `SELECT` + detailColumns + `
FROM run_details
WHERE run_id = $1
ORDER BY started_at ASC`

// ListDetails returns the detail rows of one run ordered by start time.
func (s *RunStore) ListDetails(ctx context.Context, runID string) ([]harvest.RunDetail, error) {
	rows, err := s.pool.Query(ctx, listDetailsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("list run details: %w", err)
	}
	defer rows.Close()

	var details []harvest.RunDetail
	for rows.Next() {
		var (
			detail            harvest.RunDetail
			status, errorType string
		)
		if err := rows.Scan(
			&detail.ID, &detail.RunID, &detail.UnitName, &detail.SourceID,
			&status, &detail.StartedAt, &detail.FinishedAt,
			&detail.DurationMs, &detail.AttemptNumber, &detail.MaxAttempts,
			&detail.ResultCount, &errorType, &detail.ErrorMessage,
			&detail.LogRef, &detail.ConfigSnapshot,
		); err != nil {
			return nil, fmt.Errorf("scan run detail: %w", err)
		}
		detail.Status = harvest.RunStatus(status)
		detail.ErrorType = harvest.ErrorType(errorType)
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run details: %w", err)
	}
	return details, nil
}
