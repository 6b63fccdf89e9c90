// Package notification tells people when a validation job finishes.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/models"
)

// Notification describes one finished job.
type Notification struct {
	JobID   string
	Status  models.JobStatus
	Title   string
	Message string
	At      time.Time
}

type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

func sanitizeRecipients(recipients []string) []string {
	var cleaned []string
	for _, recipient := range recipients {
		if r := strings.TrimSpace(recipient); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return cleaned
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("job_id", notif.JobID).
		Str("job_status", string(notif.Status)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
