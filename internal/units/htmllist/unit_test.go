package htmllist

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
)

func newListServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><ul class="news">
			<li><a href="/detail/1">第一条</a></li>
			<li><a href="/detail/2">第二条</a></li>
			<li><a href="/detail/1">重复链接</a></li>
		</ul></body></html>`)
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/detail/"):]
		fmt.Fprintf(w, `<html><body>
			<h1 class="title">申报通知 %s</h1>
			<span class="date">2026-02-1%s</span>
			<div class="content"><p>正文段落 %s</p></div>
		</body></html>`, id, id, id)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestUnit(t *testing.T, server *httptest.Server, maxItems int) harvest.FetchUnit {
	t.Helper()

	cfg := harvest.FetchUnitConfig{
		EntryPoints: []string{server.URL + "/list"},
		Timeout:     5 * time.Second,
		MaxItems:    maxItems,
		Meta: map[string]any{
			"source_id":        "most",
			"source_name":      "科技部通知公告",
			"default_category": "project-apply",
			"item_selector":    "ul.news li a",
			"title_selector":   "h1.title",
			"content_selector": "div.content",
			"date_selector":    "span.date",
			"date_layout":      "2006-01-02",
		},
	}
	unit, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return unit
}

func TestFetchListAndDetails(t *testing.T) {
	t.Parallel()

	server := newListServer(t)
	unit := newTestUnit(t, server, 0)
	ctx := context.Background()

	require.NoError(t, unit.Prepare(ctx))
	require.Equal(t, "most", unit.Source().ID)
	require.Equal(t, harvest.CategoryProjectApply, unit.Source().DefaultCategory)

	items, err := unit.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2) // duplicate link collapsed

	require.Equal(t, "申报通知 1", items[0].Title)
	require.Contains(t, items[0].ContentMarkup, "正文段落 1")
	require.Equal(t, server.URL+"/detail/1", items[0].SourceURL)
	require.NotNil(t, items[0].PublishTime)
	require.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), *items[0].PublishTime)

	items, err = unit.PostProcess(ctx, items)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestFetchHonorsMaxItems(t *testing.T) {
	t.Parallel()

	server := newListServer(t)
	unit := newTestUnit(t, server, 1)
	ctx := context.Background()

	require.NoError(t, unit.Prepare(ctx))
	items, err := unit.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestPrepareRequiresSelectors(t *testing.T) {
	t.Parallel()

	cfg := harvest.FetchUnitConfig{
		EntryPoints: []string{"https://example.gov.cn/list"},
		Meta:        map[string]any{"source_id": "x"},
	}
	unit, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.ErrorContains(t, unit.Prepare(context.Background()), "item_selector")
}

func TestPrepareRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	cfg := harvest.FetchUnitConfig{
		EntryPoints: []string{"https://example.gov.cn/list"},
		Meta: map[string]any{
			"source_id":        "x",
			"item_selector":    "a",
			"default_category": "gossip",
		},
	}
	unit, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	err = unit.Prepare(context.Background())
	var verr *harvest.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "category", verr.Field)
}

func TestPostProcessDropsEmptyContent(t *testing.T) {
	t.Parallel()

	server := newListServer(t)
	unit := newTestUnit(t, server, 0)
	require.NoError(t, unit.Prepare(context.Background()))

	items := []harvest.ExtractedItem{
		{Title: "有正文", ContentMarkup: "<p>ok</p>", SourceURL: "https://a"},
		{Title: "空的", ContentMarkup: "   ", SourceURL: "https://b"},
	}
	kept, err := unit.PostProcess(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.Equal(t, "有正文", kept[0].Title)
}
