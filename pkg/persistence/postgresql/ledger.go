package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ledger records processed provider event IDs in the processed_events table.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// MarkIfNew relies on the primary key so exactly one concurrent insert wins.
func (l *Ledger) MarkIfNew(ctx context.Context, id string) (bool, error) {
	result, err := l.db.ExecContext(ctx, `INSERT INTO processed_events (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (l *Ledger) Release(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM processed_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to release processed event: %w", err)
	}

	return nil
}

func (l *Ledger) Prune(ctx context.Context, recordedBefore time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM processed_events WHERE recorded_at < $1`, recordedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return pruned, nil
}
