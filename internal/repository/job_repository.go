package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

type JobRepository interface {
	Create(ctx context.Context, job models.Job) (models.Job, error)
	Get(ctx context.Context, jobID string) (models.Job, error)
	UpdateStatus(ctx context.Context, jobID string, status models.JobStatus, message string) error
	ClaimNext(ctx context.Context) (*models.Job, error)
	ListStalled(ctx context.Context, updatedBefore time.Time) ([]models.JobState, error)
	AppendEvent(ctx context.Context, event models.JobEvent) error
	ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `job_id, job_status, COALESCE(status_message, ''), connection_name,
	quality_checks, data_source, created_at, updated_at, claimed_at`

func (r *jobRepository) Create(ctx context.Context, job models.Job) (models.Job, error) {
	checks, err := json.Marshal(job.QualityChecks)
	if err != nil {
		return job, fmt.Errorf("marshal quality checks: %w", err)
	}
	dataSource, err := json.Marshal(job.DataSource)
	if err != nil {
		return job, fmt.Errorf("marshal data source: %w", err)
	}

	query := `
		INSERT INTO dq.job_run_status
			(job_id, job_status, status_message, connection_name, quality_checks, data_source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	job.Status = models.StatusStarted
	err = r.db.QueryRowContext(ctx, query,
		job.ID, job.Status, job.StatusMessage, job.ConnectionName, string(checks), string(dataSource),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return job, err
	}
	return job, nil
}

func scanJob(row interface{ Scan(...any) error }) (models.Job, error) {
	var (
		job        models.Job
		status     string
		checks     []byte
		dataSource []byte
		claimedAt  sql.NullTime
	)
	if err := row.Scan(
		&job.ID, &status, &job.StatusMessage, &job.ConnectionName,
		&checks, &dataSource, &job.CreatedAt, &job.UpdatedAt, &claimedAt,
	); err != nil {
		return job, err
	}
	job.Status = models.JobStatus(status)
	if claimedAt.Valid {
		job.ClaimedAt = &claimedAt.Time
	}
	if len(checks) > 0 {
		if err := json.Unmarshal(checks, &job.QualityChecks); err != nil {
			return job, fmt.Errorf("decode quality checks: %w", apperrors.ErrCorruptState)
		}
	}
	if len(dataSource) > 0 {
		if err := json.Unmarshal(dataSource, &job.DataSource); err != nil {
			return job, fmt.Errorf("decode data source: %w", apperrors.ErrCorruptState)
		}
	}
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, jobID string) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM dq.job_run_status WHERE job_id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, fmt.Errorf("job %q: %w", jobID, apperrors.ErrNotFound)
		}
		return job, err
	}
	return job, nil
}

// UpdateStatus writes a new status unless the job is already terminal.
// The terminal guard lives in the WHERE clause so concurrent writers cannot race past it.
func (r *jobRepository) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus, message string) error {
	query := `
		UPDATE dq.job_run_status
		SET job_status = $2, status_message = $3, updated_at = NOW()
		WHERE job_id = $1 AND job_status NOT IN ('COMPLETED', 'ERROR')
	`
	res, err := r.db.ExecContext(ctx, query, jobID, status, message)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT job_status FROM dq.job_run_status WHERE job_id = $1`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %q: %w", jobID, apperrors.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("job %q is %s: %w", jobID, current, apperrors.ErrTerminalState)
}

// ClaimNext marks the oldest unclaimed STARTED job as claimed and returns it.
// It returns nil when there is nothing to run.
func (r *jobRepository) ClaimNext(ctx context.Context) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE dq.job_run_status
		SET claimed_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM dq.job_run_status
			WHERE job_status = 'STARTED' AND claimed_at IS NULL
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns
	job, err := scanJob(tx.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &job, nil
}

func (r *jobRepository) ListStalled(ctx context.Context, updatedBefore time.Time) ([]models.JobState, error) {
	query := `
		SELECT job_id, job_status, COALESCE(status_message, ''), updated_at
		FROM dq.job_run_status
		WHERE job_status IN ('STARTED', 'INPROGRESS') AND updated_at < $1
		ORDER BY updated_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := []models.JobState{}
	for rows.Next() {
		var (
			s      models.JobState
			status string
		)
		if err := rows.Scan(&s.JobID, &status, &s.StatusMessage, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = models.JobStatus(status)
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *jobRepository) AppendEvent(ctx context.Context, event models.JobEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dq.job_run_events (job_id, job_status, status_message) VALUES ($1, $2, $3)`,
		event.JobID, event.Status, event.Message,
	)
	return err
}

func (r *jobRepository) ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, job_status, COALESCE(status_message, ''), created_at
		FROM dq.job_run_events
		WHERE job_id = $1
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.JobEvent{}
	for rows.Next() {
		var (
			e      models.JobEvent
			status string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &status, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = models.JobStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}
