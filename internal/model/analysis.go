package model

import "time"

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobError   JobStatus = "ERROR"
	// JobKilled is reported by the backend when an operator stops a task.
	JobKilled JobStatus = "KILLED"
)

// Terminal reports whether the job will not change status anymore.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobError || s == JobKilled
}

// AnalysisParameters configures one duplicate-detection run.
type AnalysisParameters struct {
	Algorithm    string             `json:"algorithm"`
	EntityTypeID int64              `json:"entity_type_id"`
	Fields       []string           `json:"fields"`
	Thresholds   map[string]float64 `json:"parameters,omitempty"`
}

// UserRef identifies the operator who launched a job.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// AnalysisJob is an asynchronous backend duplicate-detection task.
type AnalysisJob struct {
	ID         int64              `json:"id"`
	Status     JobStatus          `json:"status"`
	Parameters AnalysisParameters `json:"metadata"`
	CreatedBy  *UserRef           `json:"created_by,omitempty"`
	TaskID     *int64             `json:"task,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}
