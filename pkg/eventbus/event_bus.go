// Package eventbus publishes and consumes pipeline lifecycle events.
package eventbus

import (
	"context"
	"errors"

	"github.com/dukex/convoflow/pkg/events"
)

var ErrNilHandler = errors.New("event handler is nil")

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events partitioned by key. Events sharing a key
// keep their relative order on transports that partition.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event, e.g. *events.JobDeadLettered.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
