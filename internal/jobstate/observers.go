package jobstate

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/models"
)

// LogObserver mirrors transitions into the structured log.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "job-log").Logger()}
}

func (o *LogObserver) OnTransition(_ context.Context, t Transition) {
	event := o.logger.Info()
	if t.Status == models.StatusError {
		event = o.logger.Error()
	}
	event.Str("job_id", t.JobID).Str("job_status", string(t.Status)).Msg(t.Message)
}

// EventWriter appends a transition to the job history.
type EventWriter interface {
	AppendEvent(ctx context.Context, event models.JobEvent) error
}

// HistoryObserver records each transition in job_run_events. Write failures are
// logged and dropped.
type HistoryObserver struct {
	events EventWriter
	logger zerolog.Logger
}

func NewHistoryObserver(events EventWriter, logger zerolog.Logger) *HistoryObserver {
	return &HistoryObserver{events: events, logger: logger.With().Str("component", "job-history").Logger()}
}

func (o *HistoryObserver) OnTransition(ctx context.Context, t Transition) {
	err := o.events.AppendEvent(ctx, models.JobEvent{JobID: t.JobID, Status: t.Status, Message: t.Message})
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", t.JobID).Msg("failed to record job event")
	}
}
