package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/repository"
)

// MemoryResults is an in-memory repository.ResultRepository. InTx restores the
// previous contents when fn fails.
type MemoryResults struct {
	mu           sync.Mutex
	batches      map[string]models.ValidationBatch
	expectations []models.ExpectationResult
	nextID       int64

	// FailInsertAfter makes the n-th InsertExpectationResult call fail when > 0.
	FailInsertAfter int
	inserts         int
}

var _ repository.ResultRepository = (*MemoryResults)(nil)

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{batches: map[string]models.ValidationBatch{}}
}

func (m *MemoryResults) InTx(_ context.Context, fn func(repository.ResultRepository) error) error {
	m.mu.Lock()
	batches := maps.Clone(m.batches)
	exps := slices.Clone(m.expectations)
	nextID := m.nextID
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.batches, m.expectations, m.nextID = batches, exps, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryResults) UpsertBatch(_ context.Context, batch models.ValidationBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.batches[batch.BatchID]; ok {
		existing.DataQualityScore = batch.DataQualityScore
		m.batches[batch.BatchID] = existing
		return nil
	}
	for _, b := range m.batches {
		if b.JobID == batch.JobID {
			return fmt.Errorf("job %s already has batch %s", batch.JobID, b.BatchID)
		}
	}
	m.batches[batch.BatchID] = batch
	return nil
}

func (m *MemoryResults) InsertExpectationResult(_ context.Context, res models.ExpectationResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.FailInsertAfter > 0 && m.inserts >= m.FailInsertAfter {
		return 0, fmt.Errorf("insert %d refused", m.inserts)
	}
	if res.ExpectationType == "" {
		return 0, fmt.Errorf("no expectation_type: %w", apperrors.ErrPersistence)
	}
	if _, ok := m.batches[res.BatchID]; !ok {
		return 0, fmt.Errorf("batch %s does not exist", res.BatchID)
	}
	m.nextID++
	res.ExecutionID = m.nextID
	m.expectations = append(m.expectations, res)
	return res.ExecutionID, nil
}

func (m *MemoryResults) CountExpectations(_ context.Context, batchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.expectations {
		if e.BatchID == batchID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryResults) GetBatchByJob(_ context.Context, jobID string) (models.ValidationBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.JobID == jobID {
			return b, nil
		}
	}
	return models.ValidationBatch{}, fmt.Errorf("results for job %q: %w", jobID, apperrors.ErrNotFound)
}

func (m *MemoryResults) ListExpectations(_ context.Context, batchID string) ([]models.ExpectationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ExpectationResult{}
	for _, e := range m.expectations {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Batches returns the number of stored batches.
func (m *MemoryResults) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
