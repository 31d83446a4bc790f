package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

const jobColumns = `
			id
		  , internal_ref
		  , payload
		  , attempts
		  , next_attempt_at
		  , status
		  , last_error
		  , claimed_at
		  , created_at
		  , updated_at`

// JobRepository stores webhook jobs in the webhook_jobs table.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

// Insert relies on the primary key to drop duplicate provider event IDs.
func (r *JobRepository) Insert(ctx context.Context, job *models.QueuedJob) (bool, error) {
	query := `
		INSERT INTO webhook_jobs (id, internal_ref, payload, attempts, next_attempt_at, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.InternalRef,
		job.Payload,
		job.Attempts,
		job.NextAttemptAt,
		job.Status,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// Claim locks eligible rows with SKIP LOCKED so concurrent workers never
// receive the same job.
func (r *JobRepository) Claim(ctx context.Context, now time.Time, limit int) ([]*models.QueuedJob, error) {
	query := `
		UPDATE webhook_jobs
		SET status = 'in_flight', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM webhook_jobs
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	jobs, err := r.scanJobs(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	sortJobs(jobs)

	return jobs, nil
}

func (r *JobRepository) MarkSucceeded(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE webhook_jobs
		SET status = 'succeeded', updated_at = $2
		WHERE id = $1 AND status = 'in_flight'
	`

	return r.transition(ctx, "MarkSucceeded", id, query, id, now)
}

func (r *JobRepository) Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	query := `
		UPDATE webhook_jobs
		SET status = 'pending', attempts = $2, next_attempt_at = $3, last_error = $4, claimed_at = NULL, updated_at = $5
		WHERE id = $1 AND status = 'in_flight'
	`

	return r.transition(ctx, "Reschedule", id, query, id, attempts, nextAttemptAt, lastError, now)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string, now time.Time) error {
	query := `
		UPDATE webhook_jobs
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'in_flight'
	`

	return r.transition(ctx, "MarkFailed", id, query, id, attempts, lastError, now)
}

// Requeue resets a failed job so it is eligible immediately.
func (r *JobRepository) Requeue(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE webhook_jobs
		SET status = 'pending', attempts = 0, next_attempt_at = $2, claimed_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'
	`

	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return persistence.NewJobError("Requeue", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("Requeue", id, err)
	}

	if rowsAffected == 0 {
		return r.missingOr(ctx, "Requeue", id, persistence.ErrJobNotFailed)
	}

	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.QueuedJob, error) {
	query := `SELECT ` + jobColumns + ` FROM webhook_jobs WHERE id = $1`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("Get", id, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.QueuedJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM webhook_jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return r.scanJobs(rows)
}

func (r *JobRepository) ListStale(ctx context.Context, claimedBefore time.Time) ([]*models.QueuedJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM webhook_jobs
		WHERE status = 'in_flight' AND claimed_at < $1
		ORDER BY claimed_at
	`

	rows, err := r.db.QueryContext(ctx, query, claimedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return r.scanJobs(rows)
}

func (r *JobRepository) transition(ctx context.Context, op, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewJobError(op, id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError(op, id, err)
	}

	if rowsAffected == 0 {
		return r.missingOr(ctx, op, id, persistence.ErrJobNotInFlight)
	}

	return nil
}

// missingOr tells a missing job apart from one in the wrong state.
func (r *JobRepository) missingOr(ctx context.Context, op, id string, wrongState error) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return persistence.NewJobError(op, id, err)
	}

	if !exists {
		return persistence.NewJobError(op, id, persistence.ErrJobNotFound)
	}

	return persistence.NewJobError(op, id, wrongState)
}

func (r *JobRepository) scanJobs(rows *sql.Rows) ([]*models.QueuedJob, error) {
	jobs := make([]*models.QueuedJob, 0)

	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) scanJob(scanner rowScanner) (*models.QueuedJob, error) {
	var (
		job       models.QueuedJob
		claimedAt sql.NullTime
	)

	err := scanner.Scan(
		&job.ID,
		&job.InternalRef,
		&job.Payload,
		&job.Attempts,
		&job.NextAttemptAt,
		&job.Status,
		&job.LastError,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if claimedAt.Valid {
		at := claimedAt.Time.UTC()
		job.ClaimedAt = &at
	}

	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	return &job, nil
}

func sortJobs(jobs []*models.QueuedJob) {
	slices.SortFunc(jobs, func(a, b *models.QueuedJob) int {
		if c := a.NextAttemptAt.Compare(b.NextAttemptAt); c != 0 {
			return c
		}

		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
