package model

import "time"

// JobStatus represents the lifecycle of a submitted report.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// JobHandle is returned when a report is accepted for enrichment.
type JobHandle struct {
	JobID       string    `json:"job_id"`
	RunID       string    `json:"run_id"`
	Status      JobStatus `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Job is the retrievable state of a submitted report.
type Job struct {
	JobID     string          `json:"job_id"`
	RunID     string          `json:"run_id"`
	Status    JobStatus       `json:"status"`
	State     string          `json:"state,omitempty"`
	Result    *EnrichedReport `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	ClosedAt  *time.Time      `json:"closed_at,omitempty"`
}
