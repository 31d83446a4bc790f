// Package queue implements the durable webhook queue on top of a job repository.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

var (
	// ErrHandlerPanicked wraps a panic recovered from a job handler.
	ErrHandlerPanicked = errors.New("job handler panicked")

	// ErrVisibilityTimeout is recorded on jobs reclaimed from a vanished worker.
	ErrVisibilityTimeout = errors.New("job exceeded visibility timeout")
)

// Queue enqueues, claims and settles webhook jobs. It never sleeps: backoff is
// expressed as the next time a job becomes eligible.
type Queue struct {
	jobs        persistence.JobRepository
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the clock used for eligibility and backoff.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithPublisher publishes JobDeadLettered events when jobs fail terminally.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(q *Queue) {
		q.publisher = publisher
	}
}

func New(logger *slog.Logger, jobs persistence.JobRepository, opts ...Option) *Queue {
	q := &Queue{
		jobs:        jobs,
		logger:      logger.With("module", "queue"),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: MaxAttempts,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue stores a pending job keyed by the provider event ID. Enqueueing an
// ID that already exists, in any status, is a successful no-op; the returned
// bool reports whether a job was created.
func (q *Queue) Enqueue(ctx context.Context, providerEventID, internalRef string, payload []byte) (bool, error) {
	now := q.now()

	inserted, err := q.jobs.Insert(ctx, &models.QueuedJob{
		ID:            providerEventID,
		InternalRef:   internalRef,
		Payload:       payload,
		Status:        models.JobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job %s: %w", providerEventID, err)
	}

	if !inserted {
		q.logger.DebugContext(ctx, "Duplicate job ignored", "job_id", providerEventID)
	}

	return inserted, nil
}

// Dequeue claims one eligible job, or returns nil when none is eligible.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueuedJob, error) {
	jobs, err := q.DequeueBatch(ctx, 1)
	if err != nil {
		return nil, err
	}

	if len(jobs) == 0 {
		return nil, nil
	}

	return jobs[0], nil
}

// DequeueBatch claims up to n eligible jobs, oldest eligibility first.
func (q *Queue) DequeueBatch(ctx context.Context, n int) ([]*models.QueuedJob, error) {
	if n <= 0 {
		return nil, nil
	}

	jobs, err := q.jobs.Claim(ctx, q.now(), n)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue jobs: %w", err)
	}

	return jobs, nil
}

// Ack archives a job as succeeded.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	err := q.jobs.MarkSucceeded(ctx, jobID, q.now())
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}

	return nil
}

// Fail records a failed attempt. The job returns to pending with a doubled
// backoff, or becomes failed once it reached the attempt limit.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	now := q.now()
	attempts := job.Attempts + 1
	lastError := errorText(cause)

	if attempts >= q.maxAttempts {
		return q.deadLetter(ctx, jobID, attempts, lastError)
	}

	nextAttemptAt := now.Add(Delay(attempts))

	err = q.jobs.Reschedule(ctx, jobID, attempts, nextAttemptAt, lastError, now)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}

	q.logger.WarnContext(ctx, "Job attempt failed, rescheduled",
		"job_id", jobID,
		"attempts", attempts,
		"next_attempt_at", nextAttemptAt,
		"error", lastError,
	)

	return nil
}

// FailPermanently marks a job failed without further attempts.
func (q *Queue) FailPermanently(ctx context.Context, jobID string, cause error) error {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	return q.deadLetter(ctx, jobID, job.Attempts+1, errorText(cause))
}

func (q *Queue) deadLetter(ctx context.Context, jobID string, attempts int, lastError string) error {
	err := q.jobs.MarkFailed(ctx, jobID, attempts, lastError, q.now())
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	q.logger.ErrorContext(ctx, "Job failed terminally", "job_id", jobID, "attempts", attempts, "error", lastError)

	if q.publisher == nil {
		return nil
	}

	event := events.JobDeadLettered{
		BaseEvent: events.NewBaseEvent(events.JobDeadLetteredEvent, ""),
		JobID:     jobID,
		Attempts:  attempts,
		LastError: lastError,
	}

	err = q.publisher.Publish(ctx, jobID, event)
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to publish dead-letter event", "job_id", jobID, "error", err)
	}

	return nil
}

// ListFailed returns terminal jobs, most recently failed first.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]*models.QueuedJob, error) {
	jobs, err := q.jobs.ListByStatus(ctx, models.JobStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	return jobs, nil
}

// Requeue makes a failed job eligible again with its attempts reset.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	err := q.jobs.Requeue(ctx, jobID, q.now())
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	q.logger.InfoContext(ctx, "Job requeued", "job_id", jobID)

	return nil
}

// ReclaimStale routes jobs held in flight for longer than olderThan to Fail,
// as if their worker had reported an error. It returns the reclaimed jobs.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]*models.QueuedJob, error) {
	stale, err := q.jobs.ListStale(ctx, q.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	reclaimed := make([]*models.QueuedJob, 0, len(stale))

	for _, job := range stale {
		err := q.Fail(ctx, job.ID, ErrVisibilityTimeout)
		if err != nil {
			if errors.Is(err, persistence.ErrJobNotInFlight) {
				continue
			}

			return reclaimed, err
		}

		reclaimed = append(reclaimed, job)
	}

	if len(reclaimed) > 0 {
		q.logger.WarnContext(ctx, "Reclaimed stale jobs", "count", len(reclaimed))
	}

	return reclaimed, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}

	return err.Error()
}
