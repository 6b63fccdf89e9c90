package workflows

import (
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/stanstork/stratum-dq/internal/temporal"
	"github.com/stanstork/stratum-dq/internal/temporal/activities"
)

// ValidationWorkflow runs one job. The pipeline is not idempotent across engine
// state, so the run activity is attempted once; on failure the job is marked ERROR
// in case the activity died before it could record that itself.
func ValidationWorkflow(ctx workflow.Context, params temporal.ValidationParams) error {
	timeout := params.ActivityTimeout
	if timeout <= 0 {
		timeout = temporal.DefaultActivityTimeout
	}
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting validation workflow", "JobID", params.JobID)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	err := workflow.ExecuteActivity(runCtx, a.RunValidationActivity, params).Get(runCtx, nil)
	if err == nil {
		logger.Info("Validation workflow completed successfully.", "JobID", params.JobID)
		return nil
	}

	logger.Error("Validation activity failed.", "error", err)

	// Record the failure even if the workflow itself is being cancelled.
	failCtx, _ := workflow.NewDisconnectedContext(ctx)
	failCtx = workflow.WithActivityOptions(failCtx, workflow.ActivityOptions{
		StartToCloseTimeout: temporal.MarkFailedTimeout,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 3},
	})
	msg := fmt.Sprintf("Validation workflow failed: %v", err)
	if ferr := workflow.ExecuteActivity(failCtx, a.MarkJobFailedActivity, params.JobID, msg).Get(failCtx, nil); ferr != nil {
		logger.Error("Failed to mark job failed.", "JobID", params.JobID, "error", ferr)
	}
	return err
}
