package activities

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.temporal.io/sdk/activity"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/pipeline"
	"github.com/stanstork/stratum-dq/internal/temporal"
)

type JobLoader interface {
	Job(ctx context.Context, jobID string) (models.Job, error)
}

type JobRunner interface {
	Run(ctx context.Context, jc pipeline.JobContext, job models.Job) error
}

type Activities struct {
	Jobs     JobLoader
	Status   pipeline.StatusSink
	Pipeline JobRunner
	// HeartbeatInterval defaults to 15s.
	HeartbeatInterval time.Duration
}

// RunValidationActivity loads the job and runs the whole pipeline for it. The
// pipeline records its own terminal state.
func (a *Activities) RunValidationActivity(ctx context.Context, params temporal.ValidationParams) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Running validation job", "jobID", params.JobID)

	job, err := a.Jobs.Job(ctx, params.JobID)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to load job")
	}

	stop := a.heartbeat(ctx, params.JobID)
	defer stop()

	if err := a.Pipeline.Run(ctx, pipeline.JobContext{JobID: job.ID, Status: a.Status}, job); err != nil {
		logger.Error("Validation job failed", "jobID", params.JobID, "error", err)
		return pkgerrors.Wrap(err, "validation pipeline failed")
	}
	logger.Info("Validation job completed", "jobID", params.JobID)
	return nil
}

// MarkJobFailedActivity records ERROR for a job whose run did not finish. A job
// that already reached a terminal state is left as it is.
func (a *Activities) MarkJobFailedActivity(ctx context.Context, jobID, message string) error {
	logger := activity.GetLogger(ctx)
	err := a.Status.Transition(ctx, jobID, models.StatusError, message)
	if errors.Is(err, apperrors.ErrTerminalState) {
		logger.Info("Job already terminal, not marking failed", "jobID", jobID)
		return nil
	}
	if err != nil {
		logger.Error("Failed to mark job failed", "jobID", jobID, "error", err)
		return pkgerrors.Wrap(err, "failed to mark job failed")
	}
	return nil
}

func (a *Activities) heartbeat(ctx context.Context, jobID string) func() {
	interval := a.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, jobID)
			}
		}
	}()
	return func() { close(done) }
}
