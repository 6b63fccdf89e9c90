package workflows

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/client"

	"github.com/stanstork/stratum-dq/internal/temporal"
)

// Dispatcher starts a ValidationWorkflow per submitted job.
type Dispatcher struct {
	client          client.Client
	taskQueue       string
	activityTimeout time.Duration
}

func NewDispatcher(c client.Client, taskQueue string, activityTimeout time.Duration) *Dispatcher {
	if taskQueue == "" {
		taskQueue = temporal.TaskQueueName
	}
	return &Dispatcher{client: c, taskQueue: taskQueue, activityTimeout: activityTimeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) error {
	opts := client.StartWorkflowOptions{
		ID:        temporal.ValidationWorkflowIDPrefix + jobID,
		TaskQueue: d.taskQueue,
	}
	params := temporal.ValidationParams{JobID: jobID, ActivityTimeout: d.activityTimeout}
	if _, err := d.client.ExecuteWorkflow(ctx, opts, ValidationWorkflow, params); err != nil {
		return errors.Wrapf(err, "failed to start validation workflow for job %s", jobID)
	}
	return nil
}
