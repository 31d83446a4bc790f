package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/convoflow/pkg/channels/gochannel"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())

	t.Cleanup(func() {
		_ = bus.Close()
	})

	received := make(chan *events.JobDeadLettered, 1)

	require.NoError(t, bus.Handle(events.JobDeadLetteredEvent, func(_ context.Context, event any) error {
		deadLettered, ok := event.(*events.JobDeadLettered)
		assert.True(t, ok)
		received <- deadLettered

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered: acknowledged and dropped.
	require.NoError(t, bus.Publish(ctx, "contact-1", events.FlowRunCompleted{
		BaseEvent: events.NewBaseEvent(events.FlowRunCompletedEvent, "acct-1"),
		FlowID:    "flow-1",
	}))

	require.NoError(t, bus.Publish(ctx, "wamid.ABC", events.JobDeadLettered{
		BaseEvent: events.NewBaseEvent(events.JobDeadLetteredEvent, ""),
		JobID:     "wamid.ABC",
		Attempts:  5,
		LastError: "boom",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "wamid.ABC", event.JobID)
		assert.Equal(t, 5, event.Attempts)
		assert.Equal(t, events.JobDeadLetteredEvent, event.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dead letter event")
	}

}

func TestWatermillEventBus_HandleRejectsNil(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())

	err = bus.Handle(events.JobDeadLetteredEvent, nil)
	assert.ErrorIs(t, err, eventbus.ErrNilHandler)
	require.NoError(t, bus.Close())
}
