package harvest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestUnit() *staticUnit {
	return &staticUnit{
		name: "nmpa_notices",
		source: SourceInfo{
			ID:              "nmpa",
			Name:            "NMPA Notices",
			DefaultCategory: CategoryRegulatory,
		},
	}
}

func TestBuildPrefersEmbeddedID(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	builder := NewRecordBuilder(&fakeClock{now: now})

	rec, err := builder.Build(ExtractedItem{
		SourceRecordID: "nmpa-2026-0301",
		Title:          "  注册审批公告  ",
		ContentMarkup:  "<p>body</p>",
		SourceURL:      "https://example.gov.cn/notice/1",
	}, newTestUnit())
	require.NoError(t, err)

	require.Equal(t, "nmpa-2026-0301", rec.RecordID)
	require.Equal(t, "nmpa", rec.SourceID)
	require.Equal(t, CategoryRegulatory, rec.Category)
	require.Equal(t, "注册审批公告", rec.Title)
	require.Equal(t, now, rec.FetchTime)
	require.Equal(t, "web_page", rec.ContentChannel)
}

func TestBuildGeneratesIDWhenAbsent(t *testing.T) {
	t.Parallel()

	builder := NewRecordBuilder(&fakeClock{now: time.Now()})
	rec, err := builder.Build(ExtractedItem{Title: "t", ContentMarkup: "c"}, newTestUnit())
	require.NoError(t, err)

	parsed, err := uuid.Parse(rec.RecordID)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}

func TestBuildValidatesDeclaredCategory(t *testing.T) {
	t.Parallel()

	builder := NewRecordBuilder(&fakeClock{now: time.Now()})

	rec, err := builder.Build(ExtractedItem{Title: "t", Category: "project-apply"}, newTestUnit())
	require.NoError(t, err)
	require.Equal(t, CategoryProjectApply, rec.Category)

	_, err = builder.Build(ExtractedItem{Title: "t", Category: "gossip"}, newTestUnit())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "category", vErr.Field)
}
