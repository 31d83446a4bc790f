package memory

import (
	"context"
	"slices"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

type jobRepository struct {
	p *Persistence
}

func (r *jobRepository) Insert(ctx context.Context, job *models.QueuedJob) (bool, error) {
	defer r.p.lock()()

	if _, exists := r.p.jobs[job.ID]; exists {
		return false, nil
	}

	stored := *job
	stored.Payload = slices.Clone(job.Payload)
	r.p.jobs[job.ID] = &stored

	return true, nil
}

func (r *jobRepository) Claim(ctx context.Context, now time.Time, limit int) ([]*models.QueuedJob, error) {
	defer r.p.lock()()

	eligible := make([]*models.QueuedJob, 0)

	for _, job := range r.p.jobs {
		if job.Status == models.JobStatusPending && !job.NextAttemptAt.After(now) {
			eligible = append(eligible, job)
		}
	}

	slices.SortFunc(eligible, func(a, b *models.QueuedJob) int {
		if c := a.NextAttemptAt.Compare(b.NextAttemptAt); c != 0 {
			return c
		}

		return a.CreatedAt.Compare(b.CreatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*models.QueuedJob, 0, len(eligible))

	for _, job := range eligible {
		claimedAt := now
		job.Status = models.JobStatusInFlight
		job.ClaimedAt = &claimedAt
		job.UpdatedAt = now
		claimed = append(claimed, copyJob(job))
	}

	return claimed, nil
}

func (r *jobRepository) MarkSucceeded(ctx context.Context, id string, now time.Time) error {
	return r.transition(id, "MarkSucceeded", func(job *models.QueuedJob) {
		job.Status = models.JobStatusSucceeded
		job.UpdatedAt = now
	})
}

func (r *jobRepository) Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	return r.transition(id, "Reschedule", func(job *models.QueuedJob) {
		job.Status = models.JobStatusPending
		job.Attempts = attempts
		job.NextAttemptAt = nextAttemptAt
		job.LastError = lastError
		job.ClaimedAt = nil
		job.UpdatedAt = now
	})
}

func (r *jobRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string, now time.Time) error {
	return r.transition(id, "MarkFailed", func(job *models.QueuedJob) {
		job.Status = models.JobStatusFailed
		job.Attempts = attempts
		job.LastError = lastError
		job.UpdatedAt = now
	})
}

func (r *jobRepository) transition(id, op string, apply func(*models.QueuedJob)) error {
	defer r.p.lock()()

	job, ok := r.p.jobs[id]
	if !ok {
		return persistence.NewJobError(op, id, persistence.ErrJobNotFound)
	}

	if job.Status != models.JobStatusInFlight {
		return persistence.NewJobError(op, id, persistence.ErrJobNotInFlight)
	}

	apply(job)

	return nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (*models.QueuedJob, error) {
	defer r.p.lock()()

	job, ok := r.p.jobs[id]
	if !ok {
		return nil, persistence.NewJobError("Get", id, persistence.ErrJobNotFound)
	}

	return copyJob(job), nil
}

func (r *jobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.QueuedJob, error) {
	defer r.p.lock()()

	out := make([]*models.QueuedJob, 0)

	for _, job := range r.p.jobs {
		if job.Status == status {
			out = append(out, copyJob(job))
		}
	}

	slices.SortFunc(out, func(a, b *models.QueuedJob) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *jobRepository) ListStale(ctx context.Context, claimedBefore time.Time) ([]*models.QueuedJob, error) {
	defer r.p.lock()()

	out := make([]*models.QueuedJob, 0)

	for _, job := range r.p.jobs {
		if job.Status == models.JobStatusInFlight && job.ClaimedAt != nil && job.ClaimedAt.Before(claimedBefore) {
			out = append(out, copyJob(job))
		}
	}

	return out, nil
}

func (r *jobRepository) Requeue(ctx context.Context, id string, now time.Time) error {
	defer r.p.lock()()

	job, ok := r.p.jobs[id]
	if !ok {
		return persistence.NewJobError("Requeue", id, persistence.ErrJobNotFound)
	}

	if job.Status != models.JobStatusFailed {
		return persistence.NewJobError("Requeue", id, persistence.ErrJobNotFailed)
	}

	job.Status = models.JobStatusPending
	job.Attempts = 0
	job.NextAttemptAt = now
	job.ClaimedAt = nil
	job.UpdatedAt = now

	return nil
}

func copyJob(job *models.QueuedJob) *models.QueuedJob {
	out := *job
	out.Payload = slices.Clone(job.Payload)

	if job.ClaimedAt != nil {
		claimedAt := *job.ClaimedAt
		out.ClaimedAt = &claimedAt
	}

	return &out
}
