// Package pipeline orchestrates fetch unit execution, record publishing
// and the normalization drain, with full run bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/metrics"
	"github.com/pharosdata/harvester/internal/normalize"
	"github.com/pharosdata/harvester/internal/spill"
)

// Orchestrator runs batches of fetch units. Each unit executes in
// isolation; one unit failing never aborts the batch.
type Orchestrator struct {
	registry    *harvest.Registry
	builder     *harvest.RecordBuilder
	publisher   *Publisher
	normalizer  *normalize.Normalizer
	spill       *spill.Store
	runs        harvest.RunStore
	blobs       harvest.BlobStore
	clock       harvest.Clock
	logger      *zap.Logger
	unitConfigs map[string]harvest.FetchUnitConfig
}

// NewOrchestrator wires an Orchestrator. unitConfigs holds the base
// configuration per unit name; job payloads merge on top of it.
func NewOrchestrator(
	registry *harvest.Registry,
	builder *harvest.RecordBuilder,
	publisher *Publisher,
	normalizer *normalize.Normalizer,
	spillStore *spill.Store,
	runs harvest.RunStore,
	blobs harvest.BlobStore,
	clock harvest.Clock,
	unitConfigs map[string]harvest.FetchUnitConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		builder:     builder,
		publisher:   publisher,
		normalizer:  normalizer,
		spill:       spillStore,
		runs:        runs,
		blobs:       blobs,
		clock:       clock,
		unitConfigs: unitConfigs,
		logger:      logger,
	}
}

// RunBatch executes every job in sequence under one PipelineRun, then
// drains the spill directory through the normalizer.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []harvest.Job, runType harvest.RunType) (harvest.PipelineRun, error) {
	run := harvest.PipelineRun{
		ID:         uuid.Must(uuid.NewV7()).String(),
		RunType:    runType,
		Status:     harvest.RunStatusRunning,
		TotalUnits: len(jobs),
		StartedAt:  o.clock.Now(),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("create run: %w", err)
	}
	o.logger.Info("pipeline run started",
		zap.String("run_id", run.ID),
		zap.String("run_type", string(runType)),
		zap.Int("total_units", len(jobs)),
	)

	for _, job := range jobs {
		detail := o.ExecuteUnit(ctx, run.ID, job, runType, 1, 1)
		run.TotalRecords += detail.ResultCount
		if detail.Status == harvest.RunStatusSuccess {
			run.SuccessfulUnits++
		} else {
			run.FailedUnits++
		}
	}

	if err := o.Drain(ctx); err != nil {
		o.logger.Error("spill drain failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	return o.finalize(ctx, run)
}

// RunRetry re-executes one job under a fresh manual-retry run, with
// bounded attempts and exponential backoff between them. The detail
// history of earlier runs is never mutated.
func (o *Orchestrator) RunRetry(ctx context.Context, job harvest.Job) (harvest.PipelineRun, error) {
	maxAttempts := job.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoffBase := job.Retry.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 2
	}

	run := harvest.PipelineRun{
		ID:         uuid.Must(uuid.NewV7()).String(),
		RunType:    harvest.RunTypeManualRetry,
		Status:     harvest.RunStatusRunning,
		TotalUnits: 1,
		StartedAt:  o.clock.Now(),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("create retry run: %w", err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		detail := o.ExecuteUnit(ctx, run.ID, job, harvest.RunTypeManualRetry, attempt, maxAttempts)
		run.TotalRecords += detail.ResultCount
		if detail.Status == harvest.RunStatusSuccess {
			run.SuccessfulUnits = 1
			run.FailedUnits = 0
			break
		}
		run.FailedUnits = 1

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		delay := time.Duration(math.Pow(backoffBase, float64(attempt)) * float64(time.Second))
		o.logger.Info("retry backoff",
			zap.String("run_id", run.ID),
			zap.String("unit", job.UnitName),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	if err := o.Drain(ctx); err != nil {
		o.logger.Error("spill drain failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	return o.finalize(ctx, run)
}

// ExecuteUnit runs one fetch unit lifecycle and records a RunDetail.
// All failures are captured in the detail row; the returned detail is
// the persisted row.
func (o *Orchestrator) ExecuteUnit(ctx context.Context, runID string, job harvest.Job, runType harvest.RunType, attempt, maxAttempts int) harvest.RunDetail {
	started := o.clock.Now()
	cfg := o.unitConfigs[job.UnitName].Merge(job.Payload)
	if runType == harvest.RunTypeQuick {
		cfg.MaxItems = 1
	}

	detail := harvest.RunDetail{
		ID:             uuid.Must(uuid.NewV7()).String(),
		RunID:          runID,
		UnitName:       job.UnitName,
		Status:         harvest.RunStatusRunning,
		StartedAt:      started,
		AttemptNumber:  attempt,
		MaxAttempts:    maxAttempts,
		ConfigSnapshot: cfg.Snapshot(),
	}

	count, source, err := o.runUnit(ctx, job.UnitName, cfg)
	detail.SourceID = source.ID
	detail.ResultCount = count

	finished := o.clock.Now()
	detail.FinishedAt = &finished
	detail.DurationMs = finished.Sub(started).Milliseconds()

	if err != nil {
		detail.Status = harvest.RunStatusFailed
		detail.ErrorType = harvest.ClassifyError(err)
		detail.ErrorMessage = err.Error()
		detail.LogRef = o.writeFailureLog(ctx, runID, detail.ID, err)
		metrics.ObserveUnit(job.UnitName, string(harvest.RunStatusFailed))
		metrics.ObserveUnitFailure(job.UnitName, string(detail.ErrorType))
		o.logger.Error("unit failed",
			zap.String("run_id", runID),
			zap.String("unit", job.UnitName),
			zap.Int("attempt", attempt),
			zap.String("error_type", string(detail.ErrorType)),
			zap.Error(err),
		)
	} else {
		detail.Status = harvest.RunStatusSuccess
		detail.ErrorType = harvest.ErrorTypeNone
		metrics.ObserveUnit(job.UnitName, string(harvest.RunStatusSuccess))
		metrics.ObserveRecordsPublished(job.UnitName, count)
		o.logger.Info("unit succeeded",
			zap.String("run_id", runID),
			zap.String("unit", job.UnitName),
			zap.Int("records", count),
		)
	}

	if storeErr := o.runs.AddDetail(ctx, detail); storeErr != nil {
		o.logger.Error("store run detail",
			zap.String("run_id", runID),
			zap.String("unit", job.UnitName),
			zap.Error(storeErr),
		)
	}
	return detail
}

// runUnit executes prepare, fetch and post-process, then builds and
// publishes each extracted item. Items failing validation are skipped;
// anything else fails the unit.
func (o *Orchestrator) runUnit(ctx context.Context, unitName string, cfg harvest.FetchUnitConfig) (int, harvest.SourceInfo, error) {
	unit, err := o.registry.Create(unitName, cfg, o.logger)
	if err != nil {
		return 0, harvest.SourceInfo{}, err
	}
	source := unit.Source()

	if err := unit.Prepare(ctx); err != nil {
		return 0, source, fmt.Errorf("prepare %s: %w", unitName, err)
	}
	items, err := unit.Fetch(ctx)
	if err != nil {
		return 0, source, fmt.Errorf("fetch %s: %w", unitName, err)
	}
	items, err = unit.PostProcess(ctx, items)
	if err != nil {
		return 0, source, fmt.Errorf("post-process %s: %w", unitName, err)
	}
	if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
		items = items[:cfg.MaxItems]
	}

	published := 0
	for _, item := range items {
		record, err := o.builder.Build(item, unit)
		if err != nil {
			var verr *harvest.ValidationError
			if errors.As(err, &verr) {
				o.logger.Warn("dropping invalid item",
					zap.String("unit", unitName),
					zap.String("source_url", item.SourceURL),
					zap.String("field", verr.Field),
				)
				continue
			}
			return published, source, fmt.Errorf("build record: %w", err)
		}
		if err := o.publisher.Publish(ctx, record); err != nil {
			return published, source, fmt.Errorf("publish record %s: %w", record.RecordID, err)
		}
		published++
	}
	return published, source, nil
}

// Drain normalizes every spilled record. Successfully processed records
// (stored or skipped) are removed, records that error stay for the next
// drain, and undecodable files are quarantined so they cannot block
// every subsequent drain.
func (o *Orchestrator) Drain(ctx context.Context) error {
	ids, err := o.spill.List()
	if err != nil {
		return fmt.Errorf("list spill: %w", err)
	}
	for _, id := range ids {
		record, err := o.spill.Read(id)
		if errors.Is(err, spill.ErrCorrupt) {
			o.logger.Error("quarantining corrupt spill file", zap.String("record_id", id), zap.Error(err))
			if qErr := o.spill.Quarantine(id); qErr != nil {
				o.logger.Error("quarantine spilled record", zap.String("record_id", id), zap.Error(qErr))
			}
			continue
		}
		if err != nil {
			o.logger.Error("read spilled record", zap.String("record_id", id), zap.Error(err))
			continue
		}
		if _, err := o.normalizer.Process(ctx, record); err != nil {
			o.logger.Error("normalize spilled record", zap.String("record_id", id), zap.Error(err))
			continue
		}
		if err := o.spill.Remove(id); err != nil {
			o.logger.Error("remove spilled record", zap.String("record_id", id), zap.Error(err))
		}
	}
	return nil
}

// Normalizer exposes the wired normalizer for direct consumers such as
// the broker subscriber.
func (o *Orchestrator) Normalizer() *normalize.Normalizer {
	return o.normalizer
}

func (o *Orchestrator) finalize(ctx context.Context, run harvest.PipelineRun) (harvest.PipelineRun, error) {
	finished := o.clock.Now()
	run.FinishedAt = &finished
	if run.FailedUnits > 0 {
		run.Status = harvest.RunStatusFailed
		run.ErrorMessage = fmt.Sprintf("%d/%d units failed", run.FailedUnits, run.TotalUnits)
	} else {
		run.Status = harvest.RunStatusSuccess
	}
	metrics.ObserveRunDuration(string(run.RunType), finished.Sub(run.StartedAt))

	if err := o.runs.FinalizeRun(ctx, run); err != nil {
		return run, fmt.Errorf("finalize run: %w", err)
	}
	o.logger.Info("pipeline run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("successful_units", run.SuccessfulUnits),
		zap.Int("failed_units", run.FailedUnits),
		zap.Int("total_records", run.TotalRecords),
	)
	return run, nil
}

func (o *Orchestrator) writeFailureLog(ctx context.Context, runID, detailID string, unitErr error) string {
	if o.blobs == nil {
		return ""
	}
	path := fmt.Sprintf("runs/%s/%s.log", runID, detailID)
	body := fmt.Sprintf("time=%s\nerror=%s\n", o.clock.Now().Format(time.RFC3339), unitErr.Error())
	ref, err := o.blobs.PutObject(ctx, path, "text/plain; charset=utf-8", []byte(body))
	if err != nil {
		o.logger.Warn("write failure log", zap.String("run_id", runID), zap.Error(err))
		return ""
	}
	return ref
}
