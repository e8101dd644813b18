package harvest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FetchUnit is one source-specific harvester with a fixed lifecycle:
// Prepare, Fetch, PostProcess. Implementations must be safe to discard
// after a single run; the orchestrator instantiates a fresh unit per attempt.
type FetchUnit interface {
	Name() string
	Source() SourceInfo
	Prepare(ctx context.Context) error
	Fetch(ctx context.Context) ([]ExtractedItem, error)
	PostProcess(ctx context.Context, items []ExtractedItem) ([]ExtractedItem, error)
}

// Constructor builds a fetch unit from a merged per-run config.
type Constructor func(cfg FetchUnitConfig, logger *zap.Logger) (FetchUnit, error)

// Broker pushes serialized RawRecord payloads to a topic.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// CanonicalStore persists normalized records with upsert-by-id semantics.
type CanonicalStore interface {
	Upsert(ctx context.Context, record CanonicalRecord) error
	Get(ctx context.Context, recordID string) (CanonicalRecord, error)
}

// RunStore persists pipeline run and run detail bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run PipelineRun) error
	FinalizeRun(ctx context.Context, run PipelineRun) error
	AddDetail(ctx context.Context, detail RunDetail) error
	GetRun(ctx context.Context, runID string) (PipelineRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]PipelineRun, error)
	GetDetail(ctx context.Context, detailID string) (RunDetail, error)
	ListDetails(ctx context.Context, runID string) ([]RunDetail, error)
}

// JobStore persists job definitions and their scheduling state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	ListDue(ctx context.Context, now time.Time) ([]Job, error)
	UpdateSchedule(ctx context.Context, jobID string, lastRunAt time.Time, lastStatus RunStatus, nextRunAt *time.Time) error
}

// FingerprintIndex is the persistent content-fingerprint set backing dedup.
// MarkIfNew must be atomic with respect to a single process.
type FingerprintIndex interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	MarkIfNew(ctx context.Context, fingerprint string) (bool, error)
}

// BlobStore writes opaque artifacts (run logs, snapshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}
