// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// JobStore is an in-memory pricesync.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pricesync.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pricesync.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job pricesync.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status pricesync.JobStatus,
	errText string,
	counters pricesync.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == pricesync.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pricesync.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pricesync.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListJobsByLine returns the most recently submitted jobs for one line.
func (s *JobStore) ListJobsByLine(_ context.Context, lineID int64, limit int) ([]pricesync.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []pricesync.Job
	for _, job := range s.jobs {
		if job.LineID == lineID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Submitted.After(jobs[j].Submitted) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status pricesync.JobStatus) bool {
	switch status {
	case pricesync.JobStatusSucceeded, pricesync.JobStatusPartial,
		pricesync.JobStatusFailed, pricesync.JobStatusSkipped:
		return true
	default:
		return false
	}
}
