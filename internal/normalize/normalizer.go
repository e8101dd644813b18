package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/metrics"
)

// DefaultProjectApplyKeywords admit records that look like funding or
// application announcements. A record whose title and content match
// none of them is filtered.
var DefaultProjectApplyKeywords = []string{
	"申报", "通知", "指南", "评选", "资助", "补助", "奖励", "认定",
	"announcement", "grant", "application", "selection",
	"subsidy", "award", "recognition", "guideline",
}

// Options tune normalizer behavior.
type Options struct {
	// CategoryKeywords maps a category to the keywords at least one of
	// which must appear in the title or content text. Categories
	// without an entry pass unfiltered.
	CategoryKeywords map[harvest.Category][]string

	// AllowReprocess disables fingerprint dedup so an already-seen
	// record is normalized and upserted again.
	AllowReprocess bool
}

// DefaultOptions filters only the project-apply category.
func DefaultOptions() Options {
	return Options{
		CategoryKeywords: map[harvest.Category][]string{
			harvest.CategoryProjectApply: DefaultProjectApplyKeywords,
		},
	}
}

// Normalizer converts RawRecords into stored CanonicalRecords.
type Normalizer struct {
	index  harvest.FingerprintIndex
	store  harvest.CanonicalStore
	clock  harvest.Clock
	opts   Options
	logger *zap.Logger
}

// New creates a Normalizer.
func New(index harvest.FingerprintIndex, store harvest.CanonicalStore, clock harvest.Clock, opts Options, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		index:  index,
		store:  store,
		clock:  clock,
		opts:   opts,
		logger: logger,
	}
}

// Process runs the full normalization pipeline on one record. A skip is
// not an error; errors mean the record could not be evaluated at all
// and should be retried later.
func (n *Normalizer) Process(ctx context.Context, record harvest.RawRecord) (harvest.NormalizeOutcome, error) {
	outcome := harvest.NormalizeOutcome{RecordID: record.RecordID}

	if reason := missingField(record); reason != "" {
		n.logger.Warn("record missing required field",
			zap.String("record_id", record.RecordID),
			zap.String("field", reason),
		)
		outcome.Skipped = true
		outcome.Reason = harvest.SkipReasonMissingField
		metrics.ObserveNormalizeOutcome(outcome.Reason)
		return outcome, nil
	}

	cleaned := CleanMarkup(record.ContentMarkup)
	text := ExtractText(record.ContentMarkup)
	fingerprint := Fingerprint(text)
	lang, confidence := DetectLanguage(text)

	if reason, filtered := n.filterCategory(record, text); filtered {
		outcome.Skipped = true
		outcome.Reason = reason
		metrics.ObserveNormalizeOutcome(outcome.Reason)
		return outcome, nil
	}

	if !n.opts.AllowReprocess {
		seen, err := n.index.Seen(ctx, fingerprint)
		if err != nil {
			return outcome, fmt.Errorf("dedup check for %s: %w", record.RecordID, err)
		}
		if seen {
			outcome.Skipped = true
			outcome.Reason = harvest.SkipReasonDuplicate
			metrics.ObserveNormalizeOutcome(outcome.Reason)
			return outcome, nil
		}
	}

	canonical := harvest.CanonicalRecord{
		RawRecord:          record,
		ContentText:        text,
		ContentFingerprint: fingerprint,
		Language:           lang,
		LanguageConfidence: confidence,
		NormalizedAt:       n.clock.Now(),
	}
	canonical.ContentMarkup = cleaned

	if err := n.store.Upsert(ctx, canonical); err != nil {
		return outcome, fmt.Errorf("upsert record %s: %w", record.RecordID, err)
	}

	// The fingerprint commits only after a successful upsert so a
	// retried record is not misread as a duplicate of a failed write.
	if !n.opts.AllowReprocess {
		if _, err := n.index.MarkIfNew(ctx, fingerprint); err != nil {
			return outcome, fmt.Errorf("mark fingerprint for %s: %w", record.RecordID, err)
		}
	}

	outcome.Canonical = &canonical
	metrics.ObserveNormalizeOutcome("stored")
	n.logger.Debug("record normalized",
		zap.String("record_id", record.RecordID),
		zap.String("category", string(record.Category)),
		zap.String("language", lang),
	)
	return outcome, nil
}

// Fingerprint returns the hex sha256 of the extracted content text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (n *Normalizer) filterCategory(record harvest.RawRecord, text string) (string, bool) {
	keywords, ok := n.opts.CategoryKeywords[record.Category]
	if !ok || len(keywords) == 0 {
		return "", false
	}
	haystack := strings.ToLower(record.Title) + "\n" + strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return "", false
		}
	}
	reason := "not_" + strings.ReplaceAll(string(record.Category), "-", "_")
	return reason, true
}

func missingField(record harvest.RawRecord) string {
	switch {
	case strings.TrimSpace(record.RecordID) == "":
		return "record_id"
	case strings.TrimSpace(record.Title) == "":
		return "title"
	case strings.TrimSpace(record.ContentMarkup) == "":
		return "content_markup"
	case strings.TrimSpace(record.SourceURL) == "":
		return "source_url"
	default:
		return ""
	}
}
