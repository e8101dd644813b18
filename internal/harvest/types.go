// Package harvest defines core types shared across the ingestion pipeline.
package harvest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category is the closed set of content categories a record may carry.
type Category string

// Known categories. Records declaring anything else are rejected.
const (
	CategoryFrontier     Category = "frontier"
	CategoryRegulatory   Category = "regulatory"
	CategoryBidding      Category = "bidding"
	CategoryIndustry     Category = "industry"
	CategoryProjectApply Category = "project-apply"
	CategoryPolicy       Category = "policy"
)

// ParseCategory validates a raw category string against the closed enum.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(raw); c {
	case CategoryFrontier, CategoryRegulatory, CategoryBidding,
		CategoryIndustry, CategoryProjectApply, CategoryPolicy:
		return c, nil
	default:
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", raw)}
	}
}

// SourceInfo identifies the external source a fetch unit harvests.
type SourceInfo struct {
	ID              string
	Name            string
	DefaultCategory Category
	ContentChannel  string
}

// FetchUnitConfig captures the per-run configuration of one fetch unit.
// It is immutable for the duration of a run; Merge returns modified copies.
type FetchUnitConfig struct {
	EntryPoints      []string          `json:"entry_points"`
	Headers          map[string]string `json:"headers,omitempty"`
	Proxy            string            `json:"proxy,omitempty"`
	Timeout          time.Duration     `json:"timeout"`
	MaxRetries       int               `json:"max_retries"`
	RetryBackoffBase time.Duration     `json:"retry_backoff_base"`
	ThrottleInterval time.Duration     `json:"throttle_interval"`
	MaxItems         int               `json:"max_items"`
	Meta             map[string]any    `json:"meta,omitempty"`
}

// Merge returns a copy of the config with extra merged onto Meta.
// Keys in extra win over existing Meta keys.
func (c FetchUnitConfig) Merge(extra map[string]any) FetchUnitConfig {
	merged := make(map[string]any, len(c.Meta)+len(extra))
	for k, v := range c.Meta {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	c.Meta = merged
	c.EntryPoints = append([]string(nil), c.EntryPoints...)
	if c.Headers != nil {
		headers := make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		c.Headers = headers
	}
	return c
}

// MetaString returns a string-valued meta option or def when absent.
func (c FetchUnitConfig) MetaString(key, def string) string {
	if v, ok := c.Meta[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// MetaInt returns an int-valued meta option or def when absent.
// JSON and YAML decoders hand numbers over as float64, so both are accepted.
func (c FetchUnitConfig) MetaInt(key string, def int) int {
	switch v := c.Meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Snapshot renders the config as JSON for RunDetail audit rows.
func (c FetchUnitConfig) Snapshot() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ExtractedItem is the raw output of a fetch unit before canonicalization.
type ExtractedItem struct {
	SourceRecordID string
	Title          string
	ContentMarkup  string
	SourceURL      string
	Category       string
	PublishTime    *time.Time
	Metadata       map[string]string
}

// RawRecord is the canonical-shaped but unvalidated item emitted by
// harvesting. Ownership transfers builder -> publisher -> normalizer.
type RawRecord struct {
	RecordID       string            `json:"record_id"`
	SourceID       string            `json:"source_id"`
	SourceName     string            `json:"source_name"`
	Category       Category          `json:"category"`
	Title          string            `json:"title"`
	ContentMarkup  string            `json:"content_markup"`
	SourceURL      string            `json:"source_url"`
	PublishTime    *time.Time        `json:"publish_time,omitempty"`
	FetchTime      time.Time         `json:"fetch_time"`
	ContentChannel string            `json:"content_channel"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CanonicalRecord is the cleaned, deduplicated record persisted for
// downstream enrichment. Enrichment fields are populated out of band.
type CanonicalRecord struct {
	RawRecord
	ContentText        string    `json:"content_text"`
	ContentFingerprint string    `json:"content_fingerprint"`
	Language           string    `json:"language"`
	LanguageConfidence float64   `json:"language_confidence"`
	Tags               []string  `json:"tags,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	NormalizedAt       time.Time `json:"normalized_at"`
}

// RunType distinguishes how a pipeline run was initiated.
type RunType string

// Run types persisted on PipelineRun rows.
const (
	RunTypeFull        RunType = "full"
	RunTypeQuick       RunType = "quick"
	RunTypeManualRetry RunType = "manual_retry"
)

// RunStatus is the lifecycle state of a run or a unit attempt.
type RunStatus string

// Run status values. Running transitions to exactly one terminal state.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// ErrorType classifies unit failures for operator diagnostics.
type ErrorType string

// Error type values recorded on failed RunDetails.
const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeAntiBot    ErrorType = "anti_bot"
	ErrorTypeParseError ErrorType = "parse_error"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeNone       ErrorType = "none"
)

// PipelineRun is the aggregate audit record of one orchestrated batch.
type PipelineRun struct {
	ID              string     `json:"id"`
	RunType         RunType    `json:"run_type"`
	Status          RunStatus  `json:"status"`
	TotalUnits      int        `json:"total_units"`
	SuccessfulUnits int        `json:"successful_units"`
	FailedUnits     int        `json:"failed_units"`
	TotalRecords    int        `json:"total_records"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// RunDetail is the per-unit attempt record nested under a PipelineRun.
// Retries append new rows under a fresh manual-retry run; history is
// never mutated.
type RunDetail struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	UnitName       string     `json:"unit_name"`
	SourceID       string     `json:"source_id,omitempty"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
	AttemptNumber  int        `json:"attempt_number"`
	MaxAttempts    int        `json:"max_attempts"`
	ResultCount    int        `json:"result_count"`
	ErrorType      ErrorType  `json:"error_type,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	LogRef         string     `json:"log_ref,omitempty"`
	ConfigSnapshot string     `json:"config_snapshot,omitempty"`
}

// Schedule declares when a job recurs. Zero value means one-off.
type Schedule struct {
	Cron            string `json:"cron,omitempty"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
}

// IsZero reports whether the schedule describes a one-off job.
func (s Schedule) IsZero() bool {
	return s.Cron == "" && s.IntervalMinutes == 0
}

// RetryConfig bounds the manual retry loop for a job.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts"`
	BackoffBase float64 `json:"backoff_base"`
}

// Job binds a fetch unit to a config payload and a recurrence rule.
// The scheduler owns NextRunAt, LastRunAt and LastStatus.
type Job struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	UnitName   string         `json:"unit_name"`
	Schedule   Schedule       `json:"schedule"`
	Payload    map[string]any `json:"payload,omitempty"`
	Retry      RetryConfig    `json:"retry_config"`
	Enabled    bool           `json:"enabled"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	LastStatus RunStatus      `json:"last_status,omitempty"`
}

// NormalizeOutcome is returned for every RawRecord the normalizer sees.
type NormalizeOutcome struct {
	RecordID  string           `json:"record_id"`
	Skipped   bool             `json:"skipped"`
	Reason    string           `json:"reason,omitempty"`
	Canonical *CanonicalRecord `json:"canonical_record,omitempty"`
}

// Skip reasons reported in NormalizeOutcome.
const (
	SkipReasonMissingField = "missing_required_field"
	SkipReasonDuplicate    = "duplicate"
)
