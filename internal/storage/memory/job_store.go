package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pharosdata/harvester/internal/harvest"
)

// JobStore keeps job definitions and scheduling state in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]harvest.Job)}
}

// CreateJob stores a new job definition.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, ErrNotFound
	}
	return job, nil
}

// ListJobs returns all jobs sorted by name.
func (s *JobStore) ListJobs(_ context.Context) ([]harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]harvest.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs, nil
}

// ListDue returns enabled jobs whose next run time has passed.
func (s *JobStore) ListDue(_ context.Context, now time.Time) ([]harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []harvest.Job
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRunAt == nil {
			continue
		}
		if !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	return due, nil
}

// UpdateSchedule records the outcome of a run and the next due time.
func (s *JobStore) UpdateSchedule(_ context.Context, jobID string, lastRunAt time.Time, lastStatus harvest.RunStatus, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	last := lastRunAt
	job.LastRunAt = &last
	job.LastStatus = lastStatus
	job.NextRunAt = nextRunAt
	s.jobs[jobID] = job
	return nil
}
