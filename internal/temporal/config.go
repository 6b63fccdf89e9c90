package temporal

import "time"

// TaskQueueName is the Temporal task queue validation workflows run on.
const TaskQueueName = "DQ_VALIDATION"

// ValidationWorkflowIDPrefix prefixes the job id to form the workflow id, so a job
// can only ever have one workflow.
const ValidationWorkflowIDPrefix = "dq-validation-"

// DefaultActivityTimeout bounds one whole pipeline run inside an activity.
const DefaultActivityTimeout = 2 * time.Hour

// MarkFailedTimeout bounds the activity that records a failure.
const MarkFailedTimeout = 30 * time.Second

type Config struct {
	HostPort        string        `mapstructure:"host_port"`
	Namespace       string        `mapstructure:"namespace"`
	TaskQueue       string        `mapstructure:"task_queue"`
	ActivityTimeout time.Duration `mapstructure:"activity_timeout"`
}

// ValidationParams is the input of ValidationWorkflow.
type ValidationParams struct {
	JobID           string
	ActivityTimeout time.Duration
}
