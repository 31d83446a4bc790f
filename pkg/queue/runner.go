package queue

import (
	"context"
	"fmt"

	"github.com/dukex/convoflow/pkg/models"
)

// Handler processes one claimed job.
type Handler func(ctx context.Context, job *models.QueuedJob) Result

// Run invokes handler for a claimed job and applies its Result: Ok acks,
// Retry fails the attempt and Fatal fails the job permanently. A panicking
// handler counts as Retry. Run returns the Result that was applied.
func (q *Queue) Run(ctx context.Context, job *models.QueuedJob, handler Handler) (Result, error) {
	result := q.invoke(ctx, job, handler)

	var err error

	switch result.Outcome {
	case OutcomeOk:
		err = q.Ack(ctx, job.ID)
	case OutcomeRetry:
		err = q.Fail(ctx, job.ID, result.Err)
	case OutcomeFatal:
		err = q.FailPermanently(ctx, job.ID, result.Err)
	default:
		err = q.Fail(ctx, job.ID, fmt.Errorf("unknown handler outcome %s", result.Outcome))
	}

	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to settle job", "job_id", job.ID, "outcome", result.Outcome.String(), "error", err)

		return result, err
	}

	return result, nil
}

func (q *Queue) invoke(ctx context.Context, job *models.QueuedJob, handler Handler) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(ctx, "Job handler panicked", "job_id", job.ID, "panic", r)
			result = Retry(fmt.Errorf("%w: %v", ErrHandlerPanicked, r))
		}
	}()

	return handler(ctx, job)
}
