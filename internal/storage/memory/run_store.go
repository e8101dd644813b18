package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pharosdata/harvester/internal/harvest"
)

// RunStore keeps pipeline runs and details in memory.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]harvest.PipelineRun
	details map[string]harvest.RunDetail
	byRun   map[string][]string
	order   []string
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]harvest.PipelineRun),
		details: make(map[string]harvest.RunDetail),
		byRun:   make(map[string][]string),
	}
}

// CreateRun stores a new run row.
func (s *RunStore) CreateRun(_ context.Context, run harvest.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

// FinalizeRun replaces the run row with its terminal state.
func (s *RunStore) FinalizeRun(_ context.Context, run harvest.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// AddDetail appends a per-unit attempt row.
func (s *RunStore) AddDetail(_ context.Context, detail harvest.RunDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.details[detail.ID]; exists {
		return errors.New("detail already exists")
	}
	s.details[detail.ID] = detail
	s.byRun[detail.RunID] = append(s.byRun[detail.RunID], detail.ID)
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(_ context.Context, runID string) (harvest.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return harvest.PipelineRun{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first with limit/offset paging.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]harvest.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := append([]string(nil), s.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.runs[ids[i]].StartedAt.After(s.runs[ids[j]].StartedAt)
	})

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	runs := make([]harvest.PipelineRun, 0, len(ids))
	for _, id := range ids {
		runs = append(runs, s.runs[id])
	}
	return runs, nil
}

// GetDetail fetches one detail row by id.
func (s *RunStore) GetDetail(_ context.Context, detailID string) (harvest.RunDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	detail, ok := s.details[detailID]
	if !ok {
		return harvest.RunDetail{}, ErrNotFound
	}
	return detail, nil
}

// ListDetails returns the detail rows of one run in insertion order.
func (s *RunStore) ListDetails(_ context.Context, runID string) ([]harvest.RunDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRun[runID]
	details := make([]harvest.RunDetail, 0, len(ids))
	for _, id := range ids {
		details = append(details, s.details[id])
	}
	return details, nil
}
