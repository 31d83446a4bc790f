package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/redis"
	"github.com/dukex/convoflow/pkg/processor"
)

// Coordination is the ledger and contact locker shared by workers.
type Coordination struct {
	Ledger persistence.Ledger
	Locker processor.ContactLocker
	close  func() error
}

func (c *Coordination) Close() error {
	if c.close == nil {
		return nil
	}

	return c.close()
}

// NewCoordination uses Redis when redisURL is set, otherwise the ledger of
// the store and an in-process locker.
func NewCoordination(ctx context.Context, logger *slog.Logger, store persistence.Persistence, redisURL string, retention time.Duration) (*Coordination, error) {
	if redisURL == "" {
		return &Coordination{Ledger: store.Ledger(), Locker: processor.NewLocalLocker()}, nil
	}

	client, err := redis.NewClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}

	logger.Info("Using Redis ledger and contact locks", "retention", retention)

	return &Coordination{
		Ledger: redis.NewLedger(client, retention),
		Locker: redis.NewLocker(client, 0),
		close:  client.Close,
	}, nil
}
