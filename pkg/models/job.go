package models

import "time"

// JobStatus represents the lifecycle state of a queued webhook job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"   // Eligible once NextAttemptAt has passed
	JobStatusInFlight  JobStatus = "in_flight" // Claimed by exactly one worker
	JobStatusSucceeded JobStatus = "succeeded" // Archived
	JobStatusFailed    JobStatus = "failed"    // Terminal, retained for inspection
)

// QueuedJob is a durable unit of webhook work. ID is the provider event ID.
type QueuedJob struct {
	ID            string     `json:"id"`
	InternalRef   string     `json:"internal_ref"`
	Payload       []byte     `json:"payload"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	Status        JobStatus  `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job will never be dequeued again.
func (j *QueuedJob) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
