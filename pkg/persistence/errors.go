// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrJobNotFound indicates a queued job was not found by the given provider event ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotInFlight indicates a state transition was attempted on a job no worker holds.
	ErrJobNotInFlight = errors.New("job is not in flight")

	// ErrJobNotFailed indicates a requeue was attempted on a job that did not fail terminally.
	ErrJobNotFailed = errors.New("job is not in failed state")

	// ErrAccountNotFound indicates no tenant owns the receiving phone number.
	ErrAccountNotFound = errors.New("account not found")

	// ErrContactNotFound indicates a contact was not found.
	ErrContactNotFound = errors.New("contact not found")

	// ErrMessageNotFound indicates no message has the given provider message ID.
	ErrMessageNotFound = errors.New("message not found")

	// ErrFlowNotFound indicates a flow was not found.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrChatbotNotFound indicates a chatbot was not found.
	ErrChatbotNotFound = errors.New("chatbot not found")
)

// JobError wraps queue-related errors with additional context.
type JobError struct {
	Op    string // Operation being performed (e.g., "Claim", "MarkFailed")
	JobID string // Provider event ID of the job
	Err   error  // Underlying error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for job errors.
func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{
		Op:    op,
		JobID: jobID,
		Err:   err,
	}
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsMessageNotFound checks if an error indicates a message was not found.
func IsMessageNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound)
}

// IsAccountNotFound checks if an error indicates an account was not found.
func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrJobNotFound, ErrAccountNotFound, ErrContactNotFound,
		ErrMessageNotFound, ErrFlowNotFound, ErrChatbotNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
