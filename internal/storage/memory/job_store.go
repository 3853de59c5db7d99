// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nightglass/darkmon/internal/monitor"
)

// JobStore is a mutex-guarded in-memory monitor.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]monitor.ScanJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]monitor.ScanJob)}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job monitor.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus moves a job along its lifecycle, rejecting reverse edges.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status monitor.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.ErrJobNotFound
	}
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("%s -> %s: %w", job.Status, status, monitor.ErrInvalidTransition)
	}
	job.Status = status
	job.ErrorText = errText
	job.UpdatedAt = time.Now().UTC()
	if status == monitor.JobStatusRunning {
		job.Attempts++
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (monitor.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.ScanJob{}, monitor.ErrJobNotFound
	}
	return job, nil
}
