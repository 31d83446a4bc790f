package memory

import (
	"context"
	"time"
)

type ledgerEntry struct {
	recordedAt time.Time
}

type ledger struct {
	p *Persistence
}

func (l *ledger) MarkIfNew(ctx context.Context, id string) (bool, error) {
	defer l.p.lock()()

	if _, seen := l.p.ledger[id]; seen {
		return false, nil
	}

	l.p.ledger[id] = ledgerEntry{recordedAt: time.Now().UTC()}

	return true, nil
}

func (l *ledger) Release(ctx context.Context, id string) error {
	defer l.p.lock()()

	delete(l.p.ledger, id)

	return nil
}

func (l *ledger) Prune(ctx context.Context, recordedBefore time.Time) (int64, error) {
	defer l.p.lock()()

	var pruned int64

	for id, entry := range l.p.ledger {
		if entry.recordedAt.Before(recordedBefore) {
			delete(l.p.ledger, id)
			pruned++
		}
	}

	return pruned, nil
}
