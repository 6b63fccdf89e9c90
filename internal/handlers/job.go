package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/jobstate"
	"github.com/stanstork/stratum-dq/internal/models"
)

const defaultStalledAge = 30 * time.Minute

// JobTracker is the subset of jobstate.Tracker the handlers use.
type JobTracker interface {
	Create(ctx context.Context, job models.Job) (models.Job, error)
	Transition(ctx context.Context, jobID string, status models.JobStatus, message string) error
	Get(ctx context.Context, jobID string) (models.JobState, error)
	Events(ctx context.Context, jobID string) ([]models.JobEvent, error)
	ListStalled(ctx context.Context, olderThan time.Duration) ([]models.JobState, error)
}

type CheckValidator interface {
	ValidateAll(cs []models.Check) error
}

// Dispatcher hands an accepted job to whatever runs the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type ResultReader interface {
	GetJobResults(ctx context.Context, jobID string) (models.JobResults, error)
}

type JobHandler struct {
	jobs       JobTracker
	checks     CheckValidator
	dispatcher Dispatcher
	results    ResultReader
	logger     zerolog.Logger
	newID      func() string
}

type submitJobRequest struct {
	ConnectionName string            `json:"connection_name"`
	QualityChecks  []models.Check    `json:"quality_checks"`
	DataSource     models.DataSource `json:"data_source"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

func NewJobHandler(jobs JobTracker, checks CheckValidator, dispatcher Dispatcher, results ResultReader, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		jobs:       jobs,
		checks:     checks,
		dispatcher: dispatcher,
		results:    results,
		logger:     logger.With().Str("component", "job-handler").Logger(),
		newID:      jobstate.NewJobID,
	}
}

// SubmitJob records the job and hands it off. The job id is returned even when the
// request is rejected, so the recorded ERROR can be looked up later.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(h.logger, r)

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request payload: %v: %w", err, apperrors.ErrInvalidInput))
		return
	}
	req.ConnectionName = strings.TrimSpace(req.ConnectionName)

	job, err := h.jobs.Create(r.Context(), models.Job{
		ID:             h.newID(),
		ConnectionName: req.ConnectionName,
		QualityChecks:  req.QualityChecks,
		DataSource:     req.DataSource,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record job")
		writeError(w, err)
		return
	}
	logger = logger.With().Str("job_id", job.ID).Logger()

	if rejectErr := h.rejectReason(req); rejectErr != nil {
		if err := h.jobs.Transition(r.Context(), job.ID, models.StatusError, rejectErr.Error()); err != nil {
			logger.Error().Err(err).Msg("Failed to record rejected job")
		}
		logger.Info().Err(rejectErr).Msg("Job rejected")
		writeJSON(w, apperrors.HTTPStatus(rejectErr), submitJobResponse{JobID: job.ID, Error: rejectErr.Error()})
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), job.ID); err != nil {
		msg := fmt.Sprintf("Failed to schedule job: %v", err)
		if terr := h.jobs.Transition(context.WithoutCancel(r.Context()), job.ID, models.StatusError, msg); terr != nil {
			logger.Error().Err(terr).Msg("Failed to record dispatch failure")
		}
		logger.Error().Err(err).Msg("Failed to dispatch job")
		writeJSON(w, http.StatusServiceUnavailable, submitJobResponse{JobID: job.ID, Error: msg})
		return
	}

	logger.Info().Str("connection_name", req.ConnectionName).Int("checks", len(req.QualityChecks)).Msg("Job accepted")
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: job.ID})
}

func (h *JobHandler) rejectReason(req submitJobRequest) error {
	if req.ConnectionName == "" {
		return fmt.Errorf("connection_name is required: %w", apperrors.ErrInvalidInput)
	}
	return h.checks.ValidateAll(req.QualityChecks)
}

// SubmitJobStatus returns the current state of ?job_id=.
func (h *JobHandler) SubmitJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	state, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrCorruptState) {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Job state is corrupt")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *JobHandler) JobResults(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	res, err := h.results.GetJobResults(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobHandler) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	events, err := h.jobs.Events(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.JobEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// StalledJobs lists non-terminal jobs untouched for ?older_than= (default 30m).
func (h *JobHandler) StalledJobs(w http.ResponseWriter, r *http.Request) {
	age := defaultStalledAge
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, fmt.Errorf("older_than %q: %w", raw, apperrors.ErrInvalidInput))
			return
		}
		age = d
	}
	jobs, err := h.jobs.ListStalled(r.Context(), age)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.JobState{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		writeError(w, fmt.Errorf("job_id is required: %w", apperrors.ErrInvalidInput))
		return "", false
	}
	return jobID, true
}
