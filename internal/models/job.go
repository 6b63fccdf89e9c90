package models

import (
	"time"
)

type JobStatus string

const (
	StatusStarted    JobStatus = "STARTED"
	StatusInProgress JobStatus = "INPROGRESS"
	StatusError      JobStatus = "ERROR"
	StatusCompleted  JobStatus = "COMPLETED"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusError, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusError || s == StatusCompleted
}

// Check is one declarative data-quality rule.
type Check struct {
	ExpectationType string         `json:"expectation_type"`
	Kwargs          map[string]any `json:"kwargs"`
}

// Column returns the kwargs column, if the check targets one.
func (c Check) Column() string {
	col, _ := c.Kwargs["column"].(string)
	return col
}

// DataSource selects what a job validates within its connection.
type DataSource struct {
	TableName  string `json:"table_name,omitempty"`
	SchemaName string `json:"schema_name,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	DirPath    string `json:"dir_path,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type Job struct {
	ID             string     `json:"job_id"`
	Status         JobStatus  `json:"job_status"`
	StatusMessage  string     `json:"status_message"`
	ConnectionName string     `json:"connection_name"`
	QualityChecks  []Check    `json:"quality_checks"`
	DataSource     DataSource `json:"data_source"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
}

// JobState is the externally visible status of a job.
type JobState struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"job_status"`
	StatusMessage string    `json:"status_message"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobEvent is one recorded status transition.
type JobEvent struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"job_status"`
	Message   string    `json:"status_message"`
	CreatedAt time.Time `json:"created_at"`
}
