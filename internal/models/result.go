package models

import (
	"encoding/json"
	"time"
)

type ValidationBatch struct {
	BatchID          string    `json:"batch_id"`
	JobID            string    `json:"job_id"`
	BatchDate        time.Time `json:"batch_date"`
	DataQualityScore float64   `json:"data_quality_score"`
}

type ExpectationResult struct {
	ExecutionID        int64           `json:"execution_id"`
	BatchID            string          `json:"batch_id"`
	ExpectationType    string          `json:"expectation_type"`
	Column             *string         `json:"column"`
	Success            bool            `json:"success"`
	ExceptionMessage   *string         `json:"exception_message"`
	ExceptionTraceback *string         `json:"exception_traceback"`
	Result             json.RawMessage `json:"result"`
}

// JobResults bundles a batch with its expectation outcomes.
type JobResults struct {
	Batch        ValidationBatch     `json:"batch"`
	Expectations []ExpectationResult `json:"expectations"`
}
