package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/testutil"
)

type recordingArchiver struct {
	docs map[string][]byte
	err  error
}

func (r *recordingArchiver) Archive(_ context.Context, jobID string, doc []byte) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if r.docs == nil {
		r.docs = map[string][]byte{}
	}
	r.docs[jobID] = doc
	return "checkpoints/" + jobID, nil
}

func newTestStore(repo *testutil.MemoryResults, a Archiver) *Store {
	s := NewStore(repo, a, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC) }
	return s
}

func TestPersistWritesBatchAndExpectations(t *testing.T) {
	repo := testutil.NewMemoryResults()
	arch := &recordingArchiver{}
	s := newTestStore(repo, arch)

	vr, err := Extract([]byte(checkpointDoc))
	require.NoError(t, err)

	batch, n, err := s.Persist(context.Background(), "job-1", vr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abc123", batch.BatchID)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), batch.BatchDate)
	assert.InDelta(t, 50.0, batch.DataQualityScore, 0.0001)

	got, err := s.GetJobResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, got.Expectations, 2)
	require.NotNil(t, got.Expectations[1].Column)
	assert.Equal(t, "amount", *got.Expectations[1].Column)
	assert.False(t, got.Expectations[1].Success)
	assert.Nil(t, got.Expectations[0].ExceptionMessage)

	assert.Contains(t, arch.docs, "job-1")
}

func TestPersistRejectsMissingTypeBeforeWriting(t *testing.T) {
	repo := testutil.NewMemoryResults()
	s := newTestStore(repo, nil)

	vr := &ValidationResult{
		RunKey: RunKeyPrefix + "run",
		Results: []Outcome{
			{Success: true, ExpectationConfig: ExpectationConfig{ExpectationType: "expect_column_to_exist", Kwargs: map[string]any{"column": "id"}}},
			{Success: true},
		},
	}
	_, _, err := s.Persist(context.Background(), "job-2", vr)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Zero(t, repo.Batches())
}

func TestPersistRollsBackOnInsertFailure(t *testing.T) {
	repo := testutil.NewMemoryResults()
	repo.FailInsertAfter = 2
	s := newTestStore(repo, nil)

	vr, err := Extract([]byte(checkpointDoc))
	require.NoError(t, err)

	_, _, err = s.Persist(context.Background(), "job-3", vr)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Zero(t, repo.Batches())

	n, err := repo.CountExpectations(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistRerunUpdatesScore(t *testing.T) {
	repo := testutil.NewMemoryResults()
	s := newTestStore(repo, nil)

	vr, err := Extract([]byte(checkpointDoc))
	require.NoError(t, err)
	_, _, err = s.Persist(context.Background(), "job-4", vr)
	require.NoError(t, err)

	vr.Statistics.SuccessPercent = 75
	batch, _, err := s.Persist(context.Background(), "job-4", vr)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Batches())

	stored, err := repo.GetBatchByJob(context.Background(), "job-4")
	require.NoError(t, err)
	assert.InDelta(t, 75.0, stored.DataQualityScore, 0.0001)
	assert.Equal(t, batch.BatchID, stored.BatchID)
}

func TestPersistIgnoresArchiveFailure(t *testing.T) {
	s := newTestStore(testutil.NewMemoryResults(), &recordingArchiver{err: errors.New("bucket gone")})
	vr, err := Extract([]byte(checkpointDoc))
	require.NoError(t, err)
	_, n, err := s.Persist(context.Background(), "job-5", vr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetJobResultsNotFound(t *testing.T) {
	_, err := newTestStore(testutil.NewMemoryResults(), nil).GetJobResults(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
