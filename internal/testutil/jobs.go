// Package testutil holds in-memory stores shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// MemoryJobs is an in-memory repository.JobRepository with the same terminal
// guard as the SQL implementation.
type MemoryJobs struct {
	mu     sync.Mutex
	jobs   map[string]models.Job
	events []models.JobEvent
	nextID int64

	// FailUpdates makes UpdateStatus return this error when set.
	FailUpdates error
}

func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: map[string]models.Job{}}
}

func (m *MemoryJobs) Create(_ context.Context, job models.Job) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return job, fmt.Errorf("job %q already exists", job.ID)
	}
	now := time.Now().UTC()
	job.Status = models.StatusStarted
	job.CreatedAt, job.UpdatedAt = now, now
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MemoryJobs) Get(_ context.Context, jobID string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return job, fmt.Errorf("job %q: %w", jobID, apperrors.ErrNotFound)
	}
	return job, nil
}

func (m *MemoryJobs) UpdateStatus(_ context.Context, jobID string, status models.JobStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdates != nil {
		return m.FailUpdates
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, apperrors.ErrNotFound)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %q is %s: %w", jobID, job.Status, apperrors.ErrTerminalState)
	}
	job.Status = status
	job.StatusMessage = message
	job.UpdatedAt = time.Now().UTC()
	m.jobs[jobID] = job
	return nil
}

func (m *MemoryJobs) ClaimNext(_ context.Context) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []models.Job
	for _, job := range m.jobs {
		if job.Status == models.StatusStarted && job.ClaimedAt == nil {
			pending = append(pending, job)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	job := pending[0]
	now := time.Now().UTC()
	job.ClaimedAt = &now
	m.jobs[job.ID] = job
	return &job, nil
}

func (m *MemoryJobs) ListStalled(_ context.Context, updatedBefore time.Time) ([]models.JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := []models.JobState{}
	for _, job := range m.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(updatedBefore) {
			states = append(states, models.JobState{JobID: job.ID, Status: job.Status, StatusMessage: job.StatusMessage, UpdatedAt: job.UpdatedAt})
		}
	}
	return states, nil
}

func (m *MemoryJobs) AppendEvent(_ context.Context, event models.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	event.CreatedAt = time.Now().UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryJobs) ListEvents(_ context.Context, jobID string) ([]models.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.JobEvent{}
	for _, e := range m.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SetStatus overwrites a job's status without any guard.
func (m *MemoryJobs) SetStatus(jobID string, status models.JobStatus, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	job.Status = status
	job.UpdatedAt = updatedAt
	m.jobs[jobID] = job
}

// Statuses returns the recorded status history of a job.
func (m *MemoryJobs) Statuses(jobID string) []models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobStatus
	for _, e := range m.events {
		if e.JobID == jobID {
			out = append(out, e.Status)
		}
	}
	return out
}
