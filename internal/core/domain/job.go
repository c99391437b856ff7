package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies the handler a job is dispatched to.
type JobType string

const (
	JobTypeFaceIndex       JobType = "FACE_INDEX"
	JobTypePreviewGenerate JobType = "PREVIEW_GENERATE"
)

// JobPriority is the coarse two-tier scheduling priority.
type JobPriority string

const (
	JobPriorityHigh   JobPriority = "HIGH"
	JobPriorityNormal JobPriority = "NORMAL"
)

// JobStatus represents the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job is a deferred unit of background work claimed by pollers.
type Job struct {
	ID           uuid.UUID   `json:"id"`
	SubjectID    string      `json:"subject_id"`
	JobType      JobType     `json:"job_type"`
	Priority     JobPriority `json:"priority"`
	Status       JobStatus   `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	MaxAttempts  int         `json:"max_attempts"`
	Payload      Payload     `json:"payload"`
	LastError    *string     `json:"last_error,omitempty"`
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty"`
	// NextAttemptAt holds the earliest time a failed job may be claimed
	// again. Nil means the job is due immediately.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Terminal reports whether the job has exhausted its retry budget and is
// dead-lettered. Terminal jobs must never be reclaimed.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusFailed && j.AttemptCount >= j.MaxAttempts
}
