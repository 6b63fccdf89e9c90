package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/stanstork/stratum-dq/internal/jobstate"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/pipeline"
	"github.com/stanstork/stratum-dq/internal/temporal"
	"github.com/stanstork/stratum-dq/internal/testutil"
)

type stubRunner struct {
	err error
	ran []string
}

func (s *stubRunner) Run(ctx context.Context, jc pipeline.JobContext, job models.Job) error {
	s.ran = append(s.ran, job.ID)
	if s.err != nil {
		return s.err
	}
	return jc.Status.Transition(ctx, jc.JobID, models.StatusCompleted, "done")
}

func newActivities(t *testing.T, runner *stubRunner) (*Activities, *jobstate.Tracker) {
	t.Helper()
	tracker := jobstate.NewTracker(testutil.NewMemoryJobs(), zerolog.Nop())
	_, err := tracker.Create(context.Background(), models.Job{ID: "job-1", ConnectionName: "c"})
	require.NoError(t, err)
	return &Activities{Jobs: tracker, Status: tracker, Pipeline: runner}, tracker
}

func TestRunValidationActivity(t *testing.T) {
	runner := &stubRunner{}
	acts, tracker := newActivities(t, runner)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.RunValidationActivity, temporal.ValidationParams{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, runner.ran)

	state, err := tracker.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, state.Status)
}

func TestRunValidationActivityUnknownJob(t *testing.T) {
	runner := &stubRunner{}
	acts, _ := newActivities(t, runner)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.RunValidationActivity, temporal.ValidationParams{JobID: "missing"})
	assert.ErrorContains(t, err, "failed to load job")
	assert.Empty(t, runner.ran)
}

func TestMarkJobFailedActivity(t *testing.T) {
	acts, tracker := newActivities(t, &stubRunner{err: errors.New("boom")})

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.MarkJobFailedActivity, "job-1", "worker lost")
	require.NoError(t, err)

	state, err := tracker.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, state.Status)
	assert.Equal(t, "worker lost", state.StatusMessage)

	// A second failure report for a terminal job is accepted without change.
	_, err = env.ExecuteActivity(acts.MarkJobFailedActivity, "job-1", "again")
	require.NoError(t, err)
	state, err = tracker.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker lost", state.StatusMessage)
}
