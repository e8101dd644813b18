// Package schedule drives recurring pipeline runs from persisted job
// definitions and hands out manual retries.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/pipeline"
)

// Scheduler polls the job store and executes due jobs. One scheduler
// per process; runs for distinct jobs are serialized so the single
// fingerprint index has one writer.
type Scheduler struct {
	orch   *pipeline.Orchestrator
	jobs   harvest.JobStore
	clock  harvest.Clock
	logger *zap.Logger
}

// New creates a Scheduler.
func New(orch *pipeline.Orchestrator, jobs harvest.JobStore, clock harvest.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{orch: orch, jobs: jobs, clock: clock, logger: logger}
}

// ValidateJob rejects contradictory or unparseable schedules.
func ValidateJob(job harvest.Job) error {
	if job.UnitName == "" {
		return fmt.Errorf("job %q: unit name is required", job.Name)
	}
	if job.Schedule.Cron != "" && job.Schedule.IntervalMinutes != 0 {
		return fmt.Errorf("job %q: cron and interval_minutes are mutually exclusive", job.Name)
	}
	if job.Schedule.IntervalMinutes < 0 {
		return fmt.Errorf("job %q: interval_minutes must be positive", job.Name)
	}
	if job.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(job.Schedule.Cron); err != nil {
			return fmt.Errorf("job %q: parse cron %q: %w", job.Name, job.Schedule.Cron, err)
		}
	}
	return nil
}

// NextRunAt computes when job should fire next, relative to from.
// Disabled and one-off jobs never fire again.
func NextRunAt(job harvest.Job, from time.Time) *time.Time {
	if !job.Enabled || job.Schedule.IsZero() {
		return nil
	}
	if job.Schedule.Cron != "" {
		sched, err := cron.ParseStandard(job.Schedule.Cron)
		if err != nil {
			return nil
		}
		next := sched.Next(from)
		return &next
	}
	next := from.Add(time.Duration(job.Schedule.IntervalMinutes) * time.Minute)
	return &next
}

// Tick executes every due job once and reschedules it. Each job runs
// under its own PipelineRun so failures stay attributed.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.jobs.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}

	for _, job := range due {
		run, err := s.orch.RunBatch(ctx, []harvest.Job{job}, harvest.RunTypeFull)
		status := run.Status
		if err != nil {
			s.logger.Error("scheduled run failed to start",
				zap.String("job", job.Name),
				zap.Error(err),
			)
			status = harvest.RunStatusFailed
		}

		next := NextRunAt(job, s.clock.Now())
		if err := s.jobs.UpdateSchedule(ctx, job.ID, now, status, next); err != nil {
			s.logger.Error("update job schedule",
				zap.String("job", job.Name),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Run polls for due jobs until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	s.logger.Info("scheduler started", zap.Duration("poll_interval", pollInterval))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Retry launches a manual retry for job in the background and returns
// immediately. Progress is visible through the run store.
func (s *Scheduler) Retry(job harvest.Job) {
	go func() {
		// The originating request is long gone by the time attempts
		// finish; the retry owns its own lifetime.
		if _, err := s.orch.RunRetry(context.Background(), job); err != nil {
			s.logger.Error("manual retry failed",
				zap.String("job", job.Name),
				zap.String("unit", job.UnitName),
				zap.Error(err),
			)
		}
	}()
}
