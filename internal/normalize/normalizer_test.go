package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	fpmemory "github.com/pharosdata/harvester/internal/fingerprint/memory"
	"github.com/pharosdata/harvester/internal/harvest"
	storemem "github.com/pharosdata/harvester/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// failingOnceStore rejects the first upsert and delegates afterwards.
type failingOnceStore struct {
	inner  *storemem.CanonicalStore
	failed bool
}

func (s *failingOnceStore) Upsert(ctx context.Context, record harvest.CanonicalRecord) error {
	if !s.failed {
		s.failed = true
		return errors.New("connection reset by peer")
	}
	return s.inner.Upsert(ctx, record)
}

func (s *failingOnceStore) Get(ctx context.Context, recordID string) (harvest.CanonicalRecord, error) {
	return s.inner.Get(ctx, recordID)
}

func newTestNormalizer(t *testing.T, opts Options) (*Normalizer, *storemem.CanonicalStore) {
	t.Helper()
	store := storemem.NewCanonicalStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(fpmemory.New(), store, clock, opts, zap.NewNop()), store
}

func regulatoryRecord(id, title, markup string) harvest.RawRecord {
	return harvest.RawRecord{
		RecordID:       id,
		SourceID:       "nmpa",
		SourceName:     "NMPA Notices",
		Category:       harvest.CategoryRegulatory,
		Title:          title,
		ContentMarkup:  markup,
		SourceURL:      "https://example.gov.cn/notice/" + id,
		FetchTime:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		ContentChannel: "web_page",
	}
}

func TestProcessStoresCanonicalRecord(t *testing.T) {
	t.Parallel()

	n, store := newTestNormalizer(t, DefaultOptions())
	record := regulatoryRecord("rec-1", "药品注册受理公告",
		`<div><script>alert(1)</script><p>第一段正文。</p><p>第二段正文。</p></div>`)

	outcome, err := n.Process(context.Background(), record)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)
	require.NotNil(t, outcome.Canonical)

	got, err := store.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Equal(t, "第一段正文。\n第二段正文。", got.ContentText)
	require.NotContains(t, got.ContentMarkup, "script")
	require.Len(t, got.ContentFingerprint, 64)
	require.Equal(t, "zh", got.Language)
	require.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), got.NormalizedAt)
}

func TestProcessIsIdempotentOnDuplicateContent(t *testing.T) {
	t.Parallel()

	n, store := newTestNormalizer(t, DefaultOptions())
	ctx := context.Background()

	first, err := n.Process(ctx, regulatoryRecord("rec-1", "公告", "<p>同一份正文</p>"))
	require.NoError(t, err)
	require.False(t, first.Skipped)

	// Same content under a new record id is a duplicate.
	second, err := n.Process(ctx, regulatoryRecord("rec-2", "公告", "<p>同一份正文</p>"))
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Equal(t, harvest.SkipReasonDuplicate, second.Reason)
	require.Equal(t, 1, store.Len())
}

func TestProcessReprocessUpserts(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.AllowReprocess = true
	n, store := newTestNormalizer(t, opts)
	ctx := context.Background()

	_, err := n.Process(ctx, regulatoryRecord("rec-1", "旧标题", "<p>正文</p>"))
	require.NoError(t, err)

	outcome, err := n.Process(ctx, regulatoryRecord("rec-1", "新标题", "<p>正文</p>"))
	require.NoError(t, err)
	require.False(t, outcome.Skipped)

	got, err := store.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.Equal(t, "新标题", got.Title)
	require.Equal(t, 1, store.Len())
}

func TestProjectApplyKeywordFilter(t *testing.T) {
	t.Parallel()

	n, store := newTestNormalizer(t, DefaultOptions())
	ctx := context.Background()

	applyRecord := regulatoryRecord("rec-apply", "年度创新药物申报指南发布", "<p>申报要求</p>")
	applyRecord.Category = harvest.CategoryProjectApply
	outcome, err := n.Process(ctx, applyRecord)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)

	offTopic := regulatoryRecord("rec-party", "公司年会圆满结束", "<p>年会照片</p>")
	offTopic.Category = harvest.CategoryProjectApply
	outcome, err = n.Process(ctx, offTopic)
	require.NoError(t, err)
	require.True(t, outcome.Skipped)
	require.Equal(t, "not_project_apply", outcome.Reason)
	require.Equal(t, 1, store.Len())
}

func TestProjectApplyKeywordInBodyKept(t *testing.T) {
	t.Parallel()

	n, store := newTestNormalizer(t, DefaultOptions())

	// The title carries no keyword; the body does.
	record := regulatoryRecord("rec-body", "关于2026年有关事项",
		"<p>年度创新药物申报指南发布，详见附件。</p>")
	record.Category = harvest.CategoryProjectApply

	outcome, err := n.Process(context.Background(), record)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)
	require.Equal(t, 1, store.Len())
}

func TestUpsertFailureKeepsFingerprintUncommitted(t *testing.T) {
	t.Parallel()

	inner := storemem.NewCanonicalStore()
	store := &failingOnceStore{inner: inner}
	index := fpmemory.New()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	n := New(index, store, clock, DefaultOptions(), zap.NewNop())
	ctx := context.Background()

	record := regulatoryRecord("rec-1", "药品注册受理公告", "<p>第一段正文。</p>")
	_, err := n.Process(ctx, record)
	require.Error(t, err)

	seen, err := index.Seen(ctx, Fingerprint(ExtractText(record.ContentMarkup)))
	require.NoError(t, err)
	require.False(t, seen)

	// The retried record must store, not report a duplicate.
	outcome, err := n.Process(ctx, record)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)
	require.Equal(t, 1, inner.Len())
}

func TestUnfilteredCategoryPasses(t *testing.T) {
	t.Parallel()

	n, _ := newTestNormalizer(t, DefaultOptions())

	record := regulatoryRecord("rec-1", "公司年会圆满结束", "<p>正文</p>")
	outcome, err := n.Process(context.Background(), record)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)
}

func TestMissingFieldSkips(t *testing.T) {
	t.Parallel()

	n, _ := newTestNormalizer(t, DefaultOptions())

	record := regulatoryRecord("rec-1", "", "<p>正文</p>")
	outcome, err := n.Process(context.Background(), record)
	require.NoError(t, err)
	require.True(t, outcome.Skipped)
	require.Equal(t, harvest.SkipReasonMissingField, outcome.Reason)
}
