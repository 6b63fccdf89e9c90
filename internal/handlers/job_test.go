package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/checks"
	"github.com/stanstork/stratum-dq/internal/jobstate"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/testutil"
)

type recordingDispatcher struct {
	err  error
	jobs []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.jobs = append(d.jobs, jobID)
	return d.err
}

type stubResults struct {
	res models.JobResults
	err error
}

func (s stubResults) GetJobResults(context.Context, string) (models.JobResults, error) {
	return s.res, s.err
}

type jobHarness struct {
	store      *testutil.MemoryJobs
	dispatcher *recordingDispatcher
	handler    *JobHandler
}

func newJobHarness(results ResultReader) *jobHarness {
	store := testutil.NewMemoryJobs()
	tracker := jobstate.NewTracker(store, zerolog.Nop(), jobstate.NewHistoryObserver(store, zerolog.Nop()))
	d := &recordingDispatcher{}
	h := NewJobHandler(tracker, checks.Default(), d, results, zerolog.Nop())
	n := 0
	h.newID = func() string {
		n++
		return "job-" + string(rune('0'+n))
	}
	return &jobHarness{store: store, dispatcher: d, handler: h}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func submit(h *JobHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submit-job", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, req)
	return rec
}

func TestSubmitJobAccepted(t *testing.T) {
	hs := newJobHarness(stubResults{})

	rec := submit(hs.handler, `{
		"connection_name": "shop",
		"quality_checks": [{"expectation_type": "expect_column_values_to_not_be_null", "kwargs": {"column": "email"}}],
		"data_source": {"table_name": "customers"}
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]any{"job_id": "job-1"}, decodeBody(t, rec))
	assert.Equal(t, []string{"job-1"}, hs.dispatcher.jobs)

	job, err := hs.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, job.Status)
	assert.Equal(t, "customers", job.DataSource.TableName)
	require.Len(t, job.QualityChecks, 1)
	assert.Equal(t, "email", job.QualityChecks[0].Column())
}

func TestSubmitJobRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{
			name: "missing connection name",
			body: `{"quality_checks": [{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "id"}}]}`,
			msg:  "connection_name is required",
		},
		{
			name: "no checks",
			body: `{"connection_name": "shop", "quality_checks": []}`,
			msg:  apperrors.ErrNoChecks.Error(),
		},
		{
			name: "unsupported check",
			body: `{"connection_name": "shop", "quality_checks": [{"expectation_type": "expect_magic", "kwargs": {}}]}`,
			msg:  apperrors.ErrUnsupportedCheck.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newJobHarness(stubResults{})
			rec := submit(hs.handler, tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "job-1", body["job_id"])
			assert.Contains(t, body["error"], tt.msg)
			assert.Empty(t, hs.dispatcher.jobs)

			job, err := hs.store.Get(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusError, job.Status)
			assert.Contains(t, job.StatusMessage, tt.msg)
			assert.Equal(t, []models.JobStatus{models.StatusStarted, models.StatusError}, hs.store.Statuses("job-1"))
		})
	}
}

func TestSubmitJobMalformedBody(t *testing.T) {
	hs := newJobHarness(stubResults{})
	rec := submit(hs.handler, `{"connection_name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, err := hs.store.Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSubmitJobDispatchFailure(t *testing.T) {
	hs := newJobHarness(stubResults{})
	hs.dispatcher.err = errors.New("temporal frontend unavailable")

	rec := submit(hs.handler, `{"connection_name": "shop", "quality_checks": [{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "id"}}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "job-1", decodeBody(t, rec)["job_id"])

	job, err := hs.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.StatusMessage, "temporal frontend unavailable")
}

func TestSubmitJobStatus(t *testing.T) {
	hs := newJobHarness(stubResults{})
	submit(hs.handler, `{"connection_name": "shop", "quality_checks": [{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "id"}}]}`)

	get := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		hs.handler.SubmitJobStatus(rec, httptest.NewRequest(http.MethodGet, "/submit-job-status"+query, nil))
		return rec
	}

	rec := get("?job_id=job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, string(models.StatusStarted), body["job_status"])
	assert.Equal(t, "Job submitted", body["status_message"])

	assert.Equal(t, http.StatusBadRequest, get("").Code)
	assert.Equal(t, http.StatusNotFound, get("?job_id=nope").Code)

	hs.store.SetStatus("job-1", models.JobStatus("BOGUS"), time.Now())
	assert.Equal(t, http.StatusBadGateway, get("?job_id=job-1").Code)
}

func TestJobEvents(t *testing.T) {
	hs := newJobHarness(stubResults{})
	submit(hs.handler, `{"connection_name": "shop", "quality_checks": [{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "id"}}]}`)

	rec := httptest.NewRecorder()
	hs.handler.JobEvents(rec, httptest.NewRequest(http.MethodGet, "/job-events?job_id=job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []models.JobEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusStarted, events[0].Status)

	rec = httptest.NewRecorder()
	hs.handler.JobEvents(rec, httptest.NewRequest(http.MethodGet, "/job-events?job_id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobResults(t *testing.T) {
	col := "email"
	hs := newJobHarness(stubResults{res: models.JobResults{
		Batch: models.ValidationBatch{BatchID: "b-1", JobID: "job-1", DataQualityScore: 50},
		Expectations: []models.ExpectationResult{
			{ExecutionID: 1, BatchID: "b-1", ExpectationType: "expect_column_values_to_not_be_null", Column: &col, Success: true, Result: json.RawMessage(`{}`)},
		},
	}})

	rec := httptest.NewRecorder()
	hs.handler.JobResults(rec, httptest.NewRequest(http.MethodGet, "/job-results?job_id=job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.JobResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 50.0, res.Batch.DataQualityScore)
	require.Len(t, res.Expectations, 1)
	assert.Equal(t, "email", *res.Expectations[0].Column)

	missing := newJobHarness(stubResults{err: apperrors.ErrNotFound})
	rec = httptest.NewRecorder()
	missing.handler.JobResults(rec, httptest.NewRequest(http.MethodGet, "/job-results?job_id=job-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStalledJobs(t *testing.T) {
	hs := newJobHarness(stubResults{})
	submit(hs.handler, `{"connection_name": "shop", "quality_checks": [{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "id"}}]}`)
	submit(hs.handler, `{"connection_name": "shop", "quality_checks": [{"expectation_type": "expect_column_to_exist", "kwargs": {"column": "id"}}]}`)
	hs.store.SetStatus("job-1", models.StatusInProgress, time.Now().Add(-2*time.Hour))

	rec := httptest.NewRecorder()
	hs.handler.StalledJobs(rec, httptest.NewRequest(http.MethodGet, "/stalled-jobs?older_than=1h", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []models.JobState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].JobID)

	rec = httptest.NewRecorder()
	hs.handler.StalledJobs(rec, httptest.NewRequest(http.MethodGet, "/stalled-jobs?older_than=soon", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
