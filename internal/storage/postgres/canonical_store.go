package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pharosdata/harvester/internal/harvest"
)

// CanonicalStore persists canonical records with upsert-by-id semantics.
type CanonicalStore struct {
	pool querier
}

// NewCanonicalStore constructs a store from an existing pool.
func NewCanonicalStore(pool querier) (*CanonicalStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CanonicalStore{pool: pool}, nil
}

const upsertCanonicalSQL = `
INSERT INTO canonical_records (
	record_id,
	source_id,
	source_name,
	category,
	title,
	content_markup,
	source_url,
	publish_time,
	fetch_time,
	content_channel,
	metadata,
	content_text,
	content_fingerprint,
	language,
	language_confidence,
	tags,
	summary,
	normalized_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
ON CONFLICT (record_id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	source_name = EXCLUDED.source_name,
	category = EXCLUDED.category,
	title = EXCLUDED.title,
	content_markup = EXCLUDED.content_markup,
	source_url = EXCLUDED.source_url,
	publish_time = EXCLUDED.publish_time,
	fetch_time = EXCLUDED.fetch_time,
	content_channel = EXCLUDED.content_channel,
	metadata = EXCLUDED.metadata,
	content_text = EXCLUDED.content_text,
	content_fingerprint = EXCLUDED.content_fingerprint,
	language = EXCLUDED.language,
	language_confidence = EXCLUDED.language_confidence,
	tags = EXCLUDED.tags,
	summary = EXCLUDED.summary,
	normalized_at = EXCLUDED.normalized_at`

// Upsert inserts or fully replaces the row keyed by record id.
func (s *CanonicalStore) Upsert(ctx context.Context, record harvest.CanonicalRecord) error {
	if record.RecordID == "" {
		return fmt.Errorf("record id is required")
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	args := []any{
		record.RecordID,
		record.SourceID,
		record.SourceName,
		string(record.Category),
		record.Title,
		record.ContentMarkup,
		record.SourceURL,
		record.PublishTime,
		record.FetchTime,
		record.ContentChannel,
		metadata,
		record.ContentText,
		record.ContentFingerprint,
		record.Language,
		record.LanguageConfidence,
		record.Tags,
		record.Summary,
		record.NormalizedAt,
	}
	if _, err := s.pool.Exec(ctx, upsertCanonicalSQL, args...); err != nil {
		return fmt.Errorf("upsert canonical record: %w", err)
	}
	return nil
}

const getCanonicalSQL = `
SELECT
	record_id,
	source_id,
	source_name,
	category,
	title,
	content_markup,
	source_url,
	publish_time,
	fetch_time,
	content_channel,
	metadata,
	content_text,
	content_fingerprint,
	language,
	language_confidence,
	tags,
	summary,
	normalized_at
FROM canonical_records
WHERE record_id = $1`

// Get fetches one canonical record by id.
func (s *CanonicalStore) Get(ctx context.Context, recordID string) (harvest.CanonicalRecord, error) {
	var (
		record   harvest.CanonicalRecord
		category string
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, getCanonicalSQL, recordID).Scan(
		&record.RecordID,
		&record.SourceID,
		&record.SourceName,
		&category,
		&record.Title,
		&record.ContentMarkup,
		&record.SourceURL,
		&record.PublishTime,
		&record.FetchTime,
		&record.ContentChannel,
		&metadata,
		&record.ContentText,
		&record.ContentFingerprint,
		&record.Language,
		&record.LanguageConfidence,
		&record.Tags,
		&record.Summary,
		&record.NormalizedAt,
	)
	if err != nil {
		return harvest.CanonicalRecord{}, fmt.Errorf("get canonical record %s: %w", recordID, err)
	}
	record.Category = harvest.Category(category)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return harvest.CanonicalRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return record, nil
}
