package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/pipeline"
)

// JobClaimer hands out one unclaimed STARTED job at a time.
type JobClaimer interface {
	ClaimNext(ctx context.Context) (*models.Job, error)
}

type JobRunner interface {
	Run(ctx context.Context, jc pipeline.JobContext, job models.Job) error
}

type WorkerConfig struct {
	Jobs         JobClaimer
	Pipeline     JobRunner
	Status       pipeline.StatusSink
	PollInterval time.Duration
	// Concurrency is the number of jobs run at once. Checks inside a job stay sequential.
	Concurrency int
}

type Worker struct {
	cfg    WorkerConfig
	logger zerolog.Logger
	wake   chan struct{}
	slots  chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.With().Str("component", "worker").Logger(),
		wake:   make(chan struct{}, 1),
		slots:  make(chan struct{}, cfg.Concurrency),
	}
}

// Notify wakes the poll loop without waiting for the next tick.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Dispatch satisfies the submit handler's dispatcher. The job is already STARTED
// in the store, so waking the loop is enough for it to be claimed.
func (w *Worker) Dispatch(_ context.Context, _ string) error {
	w.Notify()
	return nil
}

// Start polls for jobs until ctx is done, then waits for running jobs to return.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.cfg.PollInterval).Int("concurrency", w.cfg.Concurrency).Msg("Worker started, polling for jobs...")
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info().Msg("Worker stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
		w.drain(ctx)
	}
}

// drain claims jobs while there are free slots and pending work.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case w.slots <- struct{}{}:
		default:
			return
		}
		claimed, err := w.processNextPendingJob(ctx)
		if err != nil {
			// Log the error, but keep polling.
			w.logger.Error().Err(err).Msg("Error processing jobs")
		}
		if !claimed {
			<-w.slots
			return
		}
	}
}

func (w *Worker) processNextPendingJob(ctx context.Context) (bool, error) {
	job, err := w.cfg.Jobs.ClaimNext(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim next pending job")
	}
	if job == nil {
		return false, nil
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, *job)
		<-w.slots
		// A slot is free again; pick up anything that queued meanwhile.
		w.Notify()
	}()
	return true, nil
}

func (w *Worker) run(ctx context.Context, job models.Job) {
	w.logger.Info().Str("job_id", job.ID).Str("connection", job.ConnectionName).Msg("Running validation job")
	jc := pipeline.JobContext{JobID: job.ID, Status: w.cfg.Status}
	if err := w.cfg.Pipeline.Run(ctx, jc, job); err != nil {
		w.logger.Warn().Err(errors.Wrapf(err, "job %s failed", job.ID)).Msg("Validation job ended in error")
	}
}
