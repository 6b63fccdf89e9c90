package jobstate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/repository"
)

// Transition describes one accepted status change.
type Transition struct {
	JobID   string
	Status  models.JobStatus
	Message string
	At      time.Time
}

// Observer is notified after a transition has been written to the store.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// Tracker owns job lifecycle state. The store is the only source of truth.
type Tracker struct {
	repo   repository.JobRepository
	logger zerolog.Logger

	mu        sync.RWMutex
	observers []Observer
}

func NewTracker(repo repository.JobRepository, logger zerolog.Logger, observers ...Observer) *Tracker {
	return &Tracker{
		repo:      repo,
		logger:    logger.With().Str("component", "job-state").Logger(),
		observers: observers,
	}
}

func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// NewJobID returns a UTC timestamp followed by a random integer.
func NewJobID() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		n = big.NewInt(time.Now().UnixNano() % 1_000_000_000)
	}
	return fmt.Sprintf("%s%09d", time.Now().UTC().Format("20060102150405"), n.Int64())
}

// Create opens the job record in STARTED.
func (t *Tracker) Create(ctx context.Context, job models.Job) (models.Job, error) {
	if job.ID == "" {
		return job, fmt.Errorf("job id is required: %w", apperrors.ErrInvalidInput)
	}
	if job.StatusMessage == "" {
		job.StatusMessage = "Job submitted"
	}
	created, err := t.repo.Create(ctx, job)
	if err != nil {
		return job, fmt.Errorf("create job %q: %v: %w", job.ID, err, apperrors.ErrPersistence)
	}
	t.notify(ctx, Transition{JobID: created.ID, Status: models.StatusStarted, Message: created.StatusMessage, At: created.CreatedAt})
	return created, nil
}

// Transition moves a job to status. STARTED cannot be re-entered and terminal
// states cannot be left.
func (t *Tracker) Transition(ctx context.Context, jobID string, status models.JobStatus, message string) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, apperrors.ErrInvalidTransition)
	}
	if status == models.StatusStarted {
		return fmt.Errorf("job %q cannot return to %s: %w", jobID, status, apperrors.ErrInvalidTransition)
	}

	if err := t.repo.UpdateStatus(ctx, jobID, status, message); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrTerminalState) {
			return err
		}
		return fmt.Errorf("update job %q: %v: %w", jobID, err, apperrors.ErrPersistence)
	}

	t.notify(ctx, Transition{JobID: jobID, Status: status, Message: message, At: time.Now().UTC()})
	return nil
}

// Get returns the current state. Unknown ids yield ErrNotFound, never a zero state.
func (t *Tracker) Get(ctx context.Context, jobID string) (models.JobState, error) {
	job, err := t.repo.Get(ctx, jobID)
	if err != nil {
		return models.JobState{}, err
	}
	if !job.Status.Valid() {
		return models.JobState{}, fmt.Errorf("job %q has status %q: %w", jobID, job.Status, apperrors.ErrCorruptState)
	}
	return models.JobState{
		JobID:         job.ID,
		Status:        job.Status,
		StatusMessage: job.StatusMessage,
		UpdatedAt:     job.UpdatedAt,
	}, nil
}

// Job returns the full job record, including its checks and data source.
func (t *Tracker) Job(ctx context.Context, jobID string) (models.Job, error) {
	return t.repo.Get(ctx, jobID)
}

// ListStalled returns non-terminal jobs that have not moved for at least olderThan.
func (t *Tracker) ListStalled(ctx context.Context, olderThan time.Duration) ([]models.JobState, error) {
	return t.repo.ListStalled(ctx, time.Now().Add(-olderThan))
}

func (t *Tracker) Events(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	if _, err := t.repo.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return t.repo.ListEvents(ctx, jobID)
}

func (t *Tracker) notify(ctx context.Context, tr Transition) {
	t.mu.RLock()
	observers := append([]Observer(nil), t.observers...)
	t.mu.RUnlock()

	for _, o := range observers {
		t.safeNotify(ctx, o, tr)
	}
}

func (t *Tracker) safeNotify(ctx context.Context, o Observer, tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("job_id", tr.JobID).Msg("job observer panicked")
		}
	}()
	o.OnTransition(ctx, tr)
}
