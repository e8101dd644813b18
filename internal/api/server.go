// Package api exposes the operational HTTP interface of the harvester.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/metrics"
	"github.com/pharosdata/harvester/internal/pipeline"
	"github.com/pharosdata/harvester/internal/schedule"
)

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router    chi.Router
	orch      *pipeline.Orchestrator
	scheduler *schedule.Scheduler
	registry  *harvest.Registry
	runs      harvest.RunStore
	jobs      harvest.JobStore
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch *pipeline.Orchestrator,
	scheduler *schedule.Scheduler,
	registry *harvest.Registry,
	runs harvest.RunStore,
	jobs harvest.JobStore,
	logger *zap.Logger,
) *Server {
	s := &Server{
		orch:      orch,
		scheduler: scheduler,
		registry:  registry,
		runs:      runs,
		jobs:      jobs,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/units", s.listUnits)
		r.Get("/jobs", s.listJobs)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/", s.triggerRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/details", s.listDetails)
			})
		})
		r.Post("/details/{detail_id}/retry", s.retryDetail)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listUnits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"units": s.registry.Available()})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	runs, err := s.runs.ListRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type triggerRunRequest struct {
	RunType string   `json:"run_type"`
	JobIDs  []string `json:"job_ids"`
}

// triggerRun launches a batch in the background and returns immediately.
// Progress is visible through GET /v1/runs. An empty body requests a
// full run of all enabled jobs.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	runType := harvest.RunType(req.RunType)
	switch runType {
	case "":
		runType = harvest.RunTypeFull
	case harvest.RunTypeFull, harvest.RunTypeQuick:
	default:
		writeError(w, http.StatusBadRequest, "run_type must be full or quick")
		return
	}

	jobs, err := s.resolveJobs(r.Context(), req.JobIDs)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(jobs) == 0 {
		writeError(w, http.StatusBadRequest, "no jobs to run")
		return
	}

	go func() {
		if _, err := s.orch.RunBatch(context.Background(), jobs, runType); err != nil {
			s.logger.Error("triggered run failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"run_type": string(runType),
		"jobs":     len(jobs),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) listDetails(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	details, err := s.runs.ListDetails(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list details failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"details": details})
}

// retryDetail re-runs the unit behind a failed detail as a background
// manual-retry run.
func (s *Server) retryDetail(w http.ResponseWriter, r *http.Request) {
	detailID := chi.URLParam(r, "detail_id")
	detail, err := s.runs.GetDetail(r.Context(), detailID)
	if err != nil {
		writeError(w, http.StatusNotFound, "detail not found")
		return
	}
	if detail.Status != harvest.RunStatusFailed {
		writeError(w, http.StatusConflict, "only failed details can be retried")
		return
	}

	job := s.jobForUnit(r.Context(), detail.UnitName)
	s.scheduler.Retry(job)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"detail_id": detailID,
		"unit":      detail.UnitName,
	})
}

// jobForUnit finds the persisted job matching a unit, falling back to a
// bare single-attempt job when none is defined.
func (s *Server) jobForUnit(ctx context.Context, unitName string) harvest.Job {
	jobs, err := s.jobs.ListJobs(ctx)
	if err == nil {
		for _, job := range jobs {
			if job.UnitName == unitName {
				return job
			}
		}
	}
	return harvest.Job{
		ID:       uuid.NewString(),
		Name:     "retry-" + unitName,
		UnitName: unitName,
		Retry:    harvest.RetryConfig{MaxAttempts: 1},
	}
}

func (s *Server) resolveJobs(ctx context.Context, ids []string) ([]harvest.Job, error) {
	if len(ids) == 0 {
		all, err := s.jobs.ListJobs(ctx)
		if err != nil {
			return nil, err
		}
		var enabled []harvest.Job
		for _, job := range all {
			if job.Enabled {
				enabled = append(enabled, job)
			}
		}
		return enabled, nil
	}

	jobs := make([]harvest.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
