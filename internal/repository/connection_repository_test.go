package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

func TestConnectionRepository_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewConnectionRepository(db)
	conn := StoredConnection{
		Connection: models.Connection{
			Name:             "20240101120000_u_db_5432_sales_123456",
			ConnectionType:   "postgres",
			Hostname:         "db",
			Port:             5432,
			Username:         "u",
			Database:         "sales",
			ConnectionString: "postgres://u@db:5432/sales",
		},
		EncryptedPassword: "Y2lwaGVy",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dq.login_credentials")).
		WithArgs(conn.Name, conn.ConnectionString, "u", "postgres", "Y2lwaGVy", "db", 5432, "sales", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepository_InsertDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dq.login_credentials")).
		WillReturnError(&pq.Error{Code: "23505"})

	err = NewConnectionRepository(db).Insert(context.Background(), StoredConnection{
		Connection: models.Connection{Name: "dup", ConnectionType: "postgres", Database: "x"},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConnectionRepository_GetFileConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"connection_name", "connection_string", "username", "connection_type", "password",
		"hostname", "port", "database_or_file", "dir_path", "created_at",
	}).AddRow("c1", "csv://u@h:22/data/a.csv", "u", "csv", "enc", "h", 22, "a.csv", "/data", created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dq.login_credentials WHERE connection_name = $1")).
		WithArgs("c1").
		WillReturnRows(rows)

	conn, err := NewConnectionRepository(db).Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "a.csv", conn.FileName)
	assert.Equal(t, "/data", conn.DirPath)
	assert.Empty(t, conn.Database)
	assert.Equal(t, "enc", conn.EncryptedPassword)
	require.NotNil(t, conn.CreatedAt)
	assert.True(t, created.Equal(*conn.CreatedAt))
}

func TestConnectionRepository_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM dq.login_credentials")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"connection_name"}))

	_, err = NewConnectionRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConnectionRepository_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewConnectionRepository(db).Exists(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}
