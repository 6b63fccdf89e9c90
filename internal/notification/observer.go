package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/jobstate"
	"github.com/stanstork/stratum-dq/internal/models"
)

// JobObserver fans terminal job transitions out to notifiers. Delivery happens
// off the caller's goroutine so a slow SMTP server never holds up a job.
type JobObserver struct {
	notifiers []Notifier
	onStatus  map[models.JobStatus]bool
	timeout   time.Duration
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewJobObserver notifies on the given statuses, or on both terminal statuses
// when none are given.
func NewJobObserver(logger zerolog.Logger, statuses []models.JobStatus, notifiers ...Notifier) *JobObserver {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	if len(statuses) == 0 {
		statuses = []models.JobStatus{models.StatusCompleted, models.StatusError}
	}
	on := make(map[models.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		on[s] = true
	}
	return &JobObserver{
		notifiers: active,
		onStatus:  on,
		timeout:   30 * time.Second,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

func (o *JobObserver) OnTransition(ctx context.Context, t jobstate.Transition) {
	if !o.onStatus[t.Status] || len(o.notifiers) == 0 {
		return
	}
	notif := Notification{
		JobID:   t.JobID,
		Status:  t.Status,
		Title:   title(t),
		Message: t.Message,
		At:      t.At,
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		for _, n := range o.notifiers {
			logNotifyError(o.logger, n.Notify(ctx, notif), channelName(n), notif)
		}
	}()
}

// Wait blocks until every pending delivery has returned.
func (o *JobObserver) Wait() {
	o.wg.Wait()
}

func title(t jobstate.Transition) string {
	if t.Status == models.StatusCompleted {
		return fmt.Sprintf("Validation job %s completed", t.JobID)
	}
	return fmt.Sprintf("Validation job %s failed", t.JobID)
}

func channelName(n Notifier) string {
	if s, ok := n.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", n)
}
