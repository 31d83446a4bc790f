package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long a processed event ID is remembered.
const DefaultRetention = 7 * 24 * time.Hour

// Ledger remembers processed event IDs as keys expiring after the retention.
type Ledger struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewLedger(client redis.UniversalClient, retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Ledger{client: client, retention: retention}
}

// MarkIfNew uses SETNX, so exactly one concurrent caller wins.
func (l *Ledger) MarkIfNew(ctx context.Context, id string) (bool, error) {
	isNew, err := l.client.SetNX(ctx, key("ledger", id), time.Now().UTC().Unix(), l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}

	return isNew, nil
}

func (l *Ledger) Release(ctx context.Context, id string) error {
	err := l.client.Del(ctx, key("ledger", id)).Err()
	if err != nil {
		return fmt.Errorf("failed to release processed event: %w", err)
	}

	return nil
}

// Prune is a no-op: entries expire on their own after the retention.
func (l *Ledger) Prune(ctx context.Context, recordedBefore time.Time) (int64, error) {
	return 0, nil
}
