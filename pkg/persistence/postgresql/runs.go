package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// FlowRunRepository keeps the outcome of every flow run.
type FlowRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRunRepository(db *sql.DB, logger *slog.Logger) *FlowRunRepository {
	return &FlowRunRepository{db: db, logger: logger}
}

func (r *FlowRunRepository) Save(ctx context.Context, run *models.FlowRun) error {
	query := `
		INSERT INTO flow_runs (id, flow_id, owner_id, contact_id, event_id, status, visited_hops, effect_count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.FlowID,
		run.OwnerID,
		run.ContactID,
		run.EventID,
		run.Status,
		run.VisitedHops,
		run.EffectCount,
		run.Error,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow run: %w", err)
	}

	return nil
}

// ByFlow returns the latest runs of a flow, newest first.
func (r *FlowRunRepository) ByFlow(ctx context.Context, flowID string, limit int) ([]*models.FlowRun, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, flow_id, owner_id, contact_id, event_id, status, visited_hops, effect_count, error, created_at
		FROM flow_runs
		WHERE flow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.FlowRun, 0)

	for rows.Next() {
		var run models.FlowRun

		err := rows.Scan(
			&run.ID,
			&run.FlowID,
			&run.OwnerID,
			&run.ContactID,
			&run.EventID,
			&run.Status,
			&run.VisitedHops,
			&run.EffectCount,
			&run.Error,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow run: %w", err)
		}

		runs = append(runs, &run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flow runs: %w", err)
	}

	return runs, nil
}

// ScheduledEffectRepository holds delayed effect batches until they are due.
type ScheduledEffectRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewScheduledEffectRepository(db *sql.DB, logger *slog.Logger) *ScheduledEffectRepository {
	return &ScheduledEffectRepository{db: db, logger: logger}
}

func (r *ScheduledEffectRepository) Save(ctx context.Context, batch *models.ScheduledEffects) error {
	effectsJSON, err := models.MarshalEffects(batch.Effects)
	if err != nil {
		return fmt.Errorf("failed to marshal effects: %w", err)
	}

	query := `
		INSERT INTO scheduled_effects (id, owner_id, contact_id, flow_id, due_at, effects, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		batch.ID,
		batch.OwnerID,
		batch.ContactID,
		batch.FlowID,
		batch.DueAt,
		effectsJSON,
		batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scheduled effects: %w", err)
	}

	return nil
}

// ClaimDue marks due batches as claimed with SKIP LOCKED so two drains never
// receive the same batch.
func (r *ScheduledEffectRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEffects, error) {
	query := `
		UPDATE scheduled_effects
		SET claimed_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_effects
			WHERE claimed_at IS NULL AND due_at <= $1
			ORDER BY due_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, owner_id, contact_id, flow_id, due_at, effects, claimed_at, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim scheduled effects: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	batches := make([]*models.ScheduledEffects, 0)

	for rows.Next() {
		var (
			batch       models.ScheduledEffects
			effectsJSON []byte
			claimedAt   time.Time
		)

		err := rows.Scan(
			&batch.ID,
			&batch.OwnerID,
			&batch.ContactID,
			&batch.FlowID,
			&batch.DueAt,
			&effectsJSON,
			&claimedAt,
			&batch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled effects: %w", err)
		}

		batch.Effects, err = models.UnmarshalEffects(effectsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal effects: %w", err)
		}

		batch.ClaimedAt = &claimedAt
		batches = append(batches, &batch)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating scheduled effects: %w", err)
	}

	return batches, nil
}

func (r *ScheduledEffectRepository) Complete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_effects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete scheduled effects: %w", err)
	}

	return nil
}
