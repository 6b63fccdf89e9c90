// Package results turns checkpoint documents into persisted batch and
// expectation records.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/repository"
)

// Archiver keeps the raw checkpoint document. Failures never fail a persist.
type Archiver interface {
	Archive(ctx context.Context, jobID string, doc []byte) (string, error)
}

type Store struct {
	repo     repository.ResultRepository
	archiver Archiver
	logger   zerolog.Logger
	now      func() time.Time
}

func NewStore(repo repository.ResultRepository, archiver Archiver, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		archiver: archiver,
		logger:   logger.With().Str("component", "results").Logger(),
		now:      time.Now,
	}
}

// Persist writes the batch and one expectation row per outcome in a single
// transaction and returns the batch with the number of rows written. Records are
// converted up front so a malformed outcome leaves nothing behind.
func (s *Store) Persist(ctx context.Context, jobID string, vr *ValidationResult) (models.ValidationBatch, int, error) {
	batch := models.ValidationBatch{
		BatchID:          vr.BatchID(),
		JobID:            jobID,
		BatchDate:        s.now().UTC().Truncate(24 * time.Hour),
		DataQualityScore: vr.Statistics.SuccessPercent,
	}
	if batch.BatchID == "" {
		return batch, 0, fmt.Errorf("validation run has no batch id: %w", apperrors.ErrPersistence)
	}

	records := make([]models.ExpectationResult, 0, len(vr.Results))
	for i, o := range vr.Results {
		rec, err := toRecord(batch.BatchID, o)
		if err != nil {
			return batch, 0, fmt.Errorf("result %d: %w", i, err)
		}
		records = append(records, rec)
	}

	err := s.repo.InTx(ctx, func(tx repository.ResultRepository) error {
		if err := tx.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch %s: %v: %w", batch.BatchID, err, apperrors.ErrPersistence)
		}
		for _, rec := range records {
			if _, err := tx.InsertExpectationResult(ctx, rec); err != nil {
				return fmt.Errorf("insert %s result: %v: %w", rec.ExpectationType, err, apperrors.ErrPersistence)
			}
		}
		return nil
	})
	if err != nil {
		return batch, 0, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("batch_id", batch.BatchID).
		Float64("score", batch.DataQualityScore).
		Int("expectations", len(records)).
		Msg("Validation results persisted")

	if s.archiver != nil && len(vr.Raw) > 0 {
		if _, err := s.archiver.Archive(ctx, jobID, vr.Raw); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to archive checkpoint document")
		}
	}
	return batch, len(records), nil
}

func toRecord(batchID string, o Outcome) (models.ExpectationResult, error) {
	if o.ExpectationConfig.ExpectationType == "" {
		return models.ExpectationResult{}, fmt.Errorf("missing expectation_type: %w", apperrors.ErrPersistence)
	}
	rec := models.ExpectationResult{
		BatchID:         batchID,
		ExpectationType: o.ExpectationConfig.ExpectationType,
		Success:         o.Success,
	}
	if col, ok := o.ExpectationConfig.Kwargs["column"].(string); ok && col != "" {
		rec.Column = &col
	}
	if o.ExceptionInfo != nil {
		if o.ExceptionInfo.ExceptionMessage != "" {
			msg := o.ExceptionInfo.ExceptionMessage
			rec.ExceptionMessage = &msg
		}
		if o.ExceptionInfo.ExceptionTraceback != "" {
			tb := o.ExceptionInfo.ExceptionTraceback
			rec.ExceptionTraceback = &tb
		}
	}
	if len(o.Result) > 0 && string(o.Result) != "null" {
		if !json.Valid(o.Result) {
			return rec, fmt.Errorf("%s result detail is not valid JSON: %w", rec.ExpectationType, apperrors.ErrPersistence)
		}
		rec.Result = o.Result
	}
	return rec, nil
}

// GetJobResults returns the batch recorded for jobID with its expectation rows.
func (s *Store) GetJobResults(ctx context.Context, jobID string) (models.JobResults, error) {
	batch, err := s.repo.GetBatchByJob(ctx, jobID)
	if err != nil {
		return models.JobResults{}, err
	}
	exps, err := s.repo.ListExpectations(ctx, batch.BatchID)
	if err != nil {
		return models.JobResults{}, fmt.Errorf("list expectations for batch %s: %w", batch.BatchID, err)
	}
	return models.JobResults{Batch: batch, Expectations: exps}, nil
}
