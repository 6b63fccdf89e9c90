package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

type ResultRepository interface {
	UpsertBatch(ctx context.Context, batch models.ValidationBatch) error
	InsertExpectationResult(ctx context.Context, result models.ExpectationResult) (int64, error)
	CountExpectations(ctx context.Context, batchID string) (int, error)
	GetBatchByJob(ctx context.Context, jobID string) (models.ValidationBatch, error)
	ListExpectations(ctx context.Context, batchID string) ([]models.ExpectationResult, error)
	// InTx runs fn against a repository bound to a single transaction.
	InTx(ctx context.Context, fn func(ResultRepository) error) error
}

type resultRepository struct {
	db *sql.DB
	q  querier
}

func NewResultRepository(db *sql.DB) ResultRepository {
	return &resultRepository{db: db, q: db}
}

func (r *resultRepository) InTx(ctx context.Context, fn func(ResultRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&resultRepository{db: r.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertBatch inserts a batch or, on batch_id conflict, updates only its score.
func (r *resultRepository) UpsertBatch(ctx context.Context, batch models.ValidationBatch) error {
	query := `
		INSERT INTO dq.batches (batch_id, job_id, batch_date, data_quality_score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id) DO UPDATE SET data_quality_score = EXCLUDED.data_quality_score
	`
	_, err := r.q.ExecContext(ctx, query, batch.BatchID, batch.JobID, batch.BatchDate, batch.DataQualityScore)
	return err
}

func (r *resultRepository) InsertExpectationResult(ctx context.Context, res models.ExpectationResult) (int64, error) {
	if res.ExpectationType == "" {
		return 0, fmt.Errorf("expectation result for batch %q has no expectation_type: %w", res.BatchID, apperrors.ErrPersistence)
	}

	var detail any
	if len(res.Result) > 0 {
		detail = string(res.Result)
	}

	query := `
		INSERT INTO dq.expectations
			(batch_id, expectation_type, "column", success, exception_message, exception_traceback, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING execution_id
	`
	var id int64
	err := r.q.QueryRowContext(ctx, query,
		res.BatchID,
		res.ExpectationType,
		res.Column,
		res.Success,
		res.ExceptionMessage,
		res.ExceptionTraceback,
		detail,
	).Scan(&id)
	return id, err
}

func (r *resultRepository) CountExpectations(ctx context.Context, batchID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM dq.expectations WHERE batch_id = $1`, batchID).Scan(&n)
	return n, err
}

func (r *resultRepository) GetBatchByJob(ctx context.Context, jobID string) (models.ValidationBatch, error) {
	var b models.ValidationBatch
	err := r.q.QueryRowContext(ctx, `
		SELECT batch_id, job_id, batch_date, data_quality_score
		FROM dq.batches WHERE job_id = $1
	`, jobID).Scan(&b.BatchID, &b.JobID, &b.BatchDate, &b.DataQualityScore)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("results for job %q: %w", jobID, apperrors.ErrNotFound)
	}
	return b, err
}

func (r *resultRepository) ListExpectations(ctx context.Context, batchID string) ([]models.ExpectationResult, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT execution_id, batch_id, expectation_type, "column", success,
		       exception_message, exception_traceback, result
		FROM dq.expectations
		WHERE batch_id = $1
		ORDER BY execution_id ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.ExpectationResult{}
	for rows.Next() {
		var (
			res    models.ExpectationResult
			column sql.NullString
			msg    sql.NullString
			trace  sql.NullString
			detail []byte
		)
		if err := rows.Scan(&res.ExecutionID, &res.BatchID, &res.ExpectationType, &column,
			&res.Success, &msg, &trace, &detail); err != nil {
			return nil, err
		}
		if column.Valid {
			res.Column = &column.String
		}
		if msg.Valid {
			res.ExceptionMessage = &msg.String
		}
		if trace.Valid {
			res.ExceptionTraceback = &trace.String
		}
		res.Result = detail
		results = append(results, res)
	}
	return results, rows.Err()
}
