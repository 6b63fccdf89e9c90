package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

var jobRowColumns = []string{
	"job_id", "job_status", "status_message", "connection_name",
	"quality_checks", "data_source", "created_at", "updated_at", "claimed_at",
}

func TestJobRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dq.job_run_status")).
		WithArgs("job-1", "STARTED", "", "conn",
			`[{"expectation_type":"expect_column_values_to_not_be_null","kwargs":{"column":"id"}}]`,
			`{"table_name":"orders"}`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	job, err := NewJobRepository(db).Create(context.Background(), models.Job{
		ID:             "job-1",
		ConnectionName: "conn",
		QualityChecks: []models.Check{{
			ExpectationType: "expect_column_values_to_not_be_null",
			Kwargs:          map[string]any{"column": "id"},
		}},
		DataSource: models.DataSource{TableName: "orders"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetDecodesPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM dq.job_run_status WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			"job-1", "INPROGRESS", "Binding validator", "conn",
			[]byte(`[{"expectation_type":"expect_column_to_exist","kwargs":{"column":"id"}}]`),
			[]byte(`{"table_name":"orders","limit":10}`),
			now, now, nil,
		))

	job, err := NewJobRepository(db).Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, job.Status)
	require.Len(t, job.QualityChecks, 1)
	assert.Equal(t, "id", job.QualityChecks[0].Column())
	assert.Equal(t, 10, job.DataSource.Limit)
	assert.Nil(t, job.ClaimedAt)
}

func TestJobRepository_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM dq.job_run_status")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	_, err = NewJobRepository(db).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestJobRepository_UpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "updated",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE dq.job_run_status")).
					WithArgs("job-1", "INPROGRESS", "Resolving connection").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "terminal",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE dq.job_run_status")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT job_status FROM dq.job_run_status")).
					WithArgs("job-1").
					WillReturnRows(sqlmock.NewRows([]string{"job_status"}).AddRow("COMPLETED"))
			},
			wantErr: apperrors.ErrTerminalState,
		},
		{
			name: "missing",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE dq.job_run_status")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT job_status FROM dq.job_run_status")).
					WithArgs("job-1").
					WillReturnRows(sqlmock.NewRows([]string{"job_status"}))
			},
			wantErr: apperrors.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			err = NewJobRepository(db).UpdateStatus(context.Background(), "job-1", models.StatusInProgress, "Resolving connection")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobRepository_ClaimNext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			"job-2", "STARTED", "", "conn", []byte(`[]`), []byte(`{}`), now, now, now,
		))
	mock.ExpectCommit()

	job, err := NewJobRepository(db).ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-2", job.ID)
	assert.NotNil(t, job.ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_ClaimNextEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))
	mock.ExpectRollback()

	job, err := NewJobRepository(db).ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_ListStalled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Now().Add(-30 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE job_status IN ('STARTED', 'INPROGRESS') AND updated_at < $1")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "job_status", "status_message", "updated_at"}).
			AddRow("job-3", "INPROGRESS", "Running checkpoint", cutoff.Add(-time.Hour)))

	states, err := NewJobRepository(db).ListStalled(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, models.StatusInProgress, states[0].Status)
}
