package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	fpmemory "github.com/pharosdata/harvester/internal/fingerprint/memory"
	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/normalize"
	"github.com/pharosdata/harvester/internal/pipeline"
	memorybroker "github.com/pharosdata/harvester/internal/publisher/memory"
	"github.com/pharosdata/harvester/internal/schedule"
	"github.com/pharosdata/harvester/internal/spill"
	storemem "github.com/pharosdata/harvester/internal/storage/memory"
)

type stubUnit struct{}

func (stubUnit) Name() string { return "stub" }
func (stubUnit) Source() harvest.SourceInfo {
	return harvest.SourceInfo{ID: "stub", Name: "stub", DefaultCategory: harvest.CategoryRegulatory}
}
func (stubUnit) Prepare(context.Context) error { return nil }
func (stubUnit) Fetch(context.Context) ([]harvest.ExtractedItem, error) {
	return []harvest.ExtractedItem{{
		SourceRecordID: "r-1",
		Title:          "通知",
		ContentMarkup:  "<p>正文</p>",
		SourceURL:      "https://example.gov.cn/r-1",
	}}, nil
}
func (stubUnit) PostProcess(_ context.Context, items []harvest.ExtractedItem) ([]harvest.ExtractedItem, error) {
	return items, nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func newTestServer(t *testing.T) (*Server, *storemem.RunStore, *storemem.JobStore) {
	t.Helper()

	logger := zap.NewNop()
	registry := harvest.NewRegistry()
	require.NoError(t, registry.Register("stub", func(harvest.FetchUnitConfig, *zap.Logger) (harvest.FetchUnit, error) {
		return stubUnit{}, nil
	}))

	spillStore, err := spill.New(t.TempDir())
	require.NoError(t, err)

	clock := realClock{}
	runs := storemem.NewRunStore()
	jobs := storemem.NewJobStore()
	orch := pipeline.NewOrchestrator(
		registry,
		harvest.NewRecordBuilder(clock),
		pipeline.NewPublisher(memorybroker.New(), "raw-records", spillStore, logger),
		normalize.New(fpmemory.New(), storemem.NewCanonicalStore(), clock, normalize.DefaultOptions(), logger),
		spillStore,
		runs,
		nil,
		clock,
		map[string]harvest.FetchUnitConfig{},
		logger,
	)
	sched := schedule.New(orch, jobs, clock, logger)
	return NewServer(orch, sched, registry, runs, jobs, logger), runs, jobs
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListUnits(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/units", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Units []string `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"stub"}, body.Units)
}

func TestTriggerRunAcceptedAndRecorded(t *testing.T) {
	t.Parallel()

	server, runs, jobs := newTestServer(t)
	require.NoError(t, jobs.CreateJob(context.Background(), harvest.Job{
		ID: "j1", Name: "stub-job", UnitName: "stub", Enabled: true,
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/", strings.NewReader(`{"run_type":"quick"}`))
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		listed, err := runs.ListRuns(context.Background(), 10, 0)
		return err == nil && len(listed) == 1 &&
			listed[0].RunType == harvest.RunTypeQuick &&
			listed[0].Status == harvest.RunStatusSuccess
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTriggerRunEmptyBodyDefaultsToFull(t *testing.T) {
	t.Parallel()

	server, runs, jobs := newTestServer(t)
	require.NoError(t, jobs.CreateJob(context.Background(), harvest.Job{
		ID: "j1", Name: "stub-job", UnitName: "stub", Enabled: true,
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		listed, err := runs.ListRuns(context.Background(), 10, 0)
		return err == nil && len(listed) == 1 &&
			listed[0].RunType == harvest.RunTypeFull &&
			listed[0].Status == harvest.RunStatusSuccess
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTriggerRunRejectsBadRunType(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/", strings.NewReader(`{"run_type":"bogus"}`))
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/ghost/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryDetail(t *testing.T) {
	t.Parallel()

	server, runs, jobs := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, harvest.Job{
		ID: "j1", Name: "stub-job", UnitName: "stub",
		Retry: harvest.RetryConfig{MaxAttempts: 2, BackoffBase: 0.001},
	}))
	require.NoError(t, runs.CreateRun(ctx, harvest.PipelineRun{ID: "run-1", Status: harvest.RunStatusFailed, StartedAt: time.Now()}))
	require.NoError(t, runs.AddDetail(ctx, harvest.RunDetail{
		ID: "det-1", RunID: "run-1", UnitName: "stub",
		Status: harvest.RunStatusFailed, ErrorType: harvest.ErrorTypeTimeout,
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/details/det-1/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		listed, err := runs.ListRuns(ctx, 10, 0)
		if err != nil {
			return false
		}
		for _, run := range listed {
			if run.RunType == harvest.RunTypeManualRetry && run.Status == harvest.RunStatusSuccess {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRetryRejectsSuccessfulDetail(t *testing.T) {
	t.Parallel()

	server, runs, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, runs.CreateRun(ctx, harvest.PipelineRun{ID: "run-1", Status: harvest.RunStatusSuccess, StartedAt: time.Now()}))
	require.NoError(t, runs.AddDetail(ctx, harvest.RunDetail{
		ID: "det-1", RunID: "run-1", UnitName: "stub", Status: harvest.RunStatusSuccess,
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/details/det-1/retry", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}
