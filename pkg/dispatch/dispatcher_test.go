package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/convoflow/pkg/dispatch"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	dispatcher *dispatch.Dispatcher
	store      *memory.Persistence
	sender     *mocks.MockSender
	target     dispatch.Target
	now        *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := memory.NewPersistence()
	sender := &mocks.MockSender{}
	now := start

	require.NoError(t, store.Accounts().Save(ctx, &models.Account{ID: "acct-1", PhoneNumberID: "1000", Name: "Acme"}))

	contact, err := store.Contacts().Upsert(ctx, "acct-1", "5511999999999", "Ana")
	require.NoError(t, err)

	d := dispatch.New(logger, sender, store,
		dispatch.WithClock(func() time.Time { return now }),
		dispatch.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }, 2),
	)

	return &fixture{
		dispatcher: d,
		store:      store,
		sender:     sender,
		target:     dispatch.Target{OwnerID: "acct-1", PhoneNumberID: "1000", Contact: contact, FlowID: "flow-1"},
		now:        &now,
	}
}

func TestDispatcher_AppliesEffectsInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "Hi Ana").Return("wamid.OUT1", nil).Once()

	report, err := f.dispatcher.Dispatch(ctx, f.target, []models.Effect{
		models.SetVariable{Name: "plan", Value: "gold"},
		models.AddTag{Tag: "vip"},
		models.SendMessage{Text: "Hi Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Applied)
	assert.Nil(t, report.ScheduledAt)

	contact, err := f.store.Contacts().ByID(ctx, f.target.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "gold", contact.Variables["plan"])
	assert.True(t, contact.HasTag("vip"))

	message, err := f.store.Messages().ByProviderID(ctx, "wamid.OUT1")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutbound, message.Direction)
	assert.Equal(t, models.DeliveryStatusSent, message.Status)
	assert.Equal(t, "flow-1", message.FlowID)

	f.sender.AssertExpectations(t)
}

func TestDispatcher_SendRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		errs   []error
		calls  int
		sent   bool
		status models.DeliveryStatus
	}{
		{
			name:   "transient then success",
			errs:   []error{&whatsapp.SendError{StatusCode: 502}},
			calls:  2,
			sent:   true,
			status: models.DeliveryStatusSent,
		},
		{
			name:   "permanent stops immediately",
			errs:   []error{&whatsapp.SendError{StatusCode: 400, Message: "recipient not on WhatsApp"}},
			calls:  1,
			status: models.DeliveryStatusFailed,
		},
		{
			name: "retries exhausted",
			errs: []error{
				&whatsapp.SendError{StatusCode: 429},
				&whatsapp.SendError{StatusCode: 429},
				&whatsapp.SendError{StatusCode: 429},
			},
			calls:  3,
			status: models.DeliveryStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			for _, err := range tt.errs {
				f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "hello").Return("", err).Once()
			}

			f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "hello").Return("wamid.OK", nil).Maybe()

			report, err := f.dispatcher.Dispatch(context.Background(), f.target, []models.Effect{
				models.SendMessage{Text: "hello"},
				models.AddTag{Tag: "contacted"},
			})
			require.NoError(t, err)

			f.sender.AssertNumberOfCalls(t, "SendText", tt.calls)
			assert.Equal(t, 1, report.Applied, "a failed send does not stop later effects")

			messages := f.store.MessagesByContact(f.target.Contact.ID)
			require.Len(t, messages, 1)
			assert.Equal(t, tt.status, messages[0].Status)

			if tt.sent {
				assert.Equal(t, 1, report.Sent)
				assert.Equal(t, "wamid.OK", messages[0].ProviderMessageID)
			} else {
				assert.Equal(t, 1, report.Failed)
				assert.Empty(t, messages[0].ProviderMessageID)
				assert.NotEmpty(t, messages[0].Error)
			}
		})
	}
}

func TestDispatcher_DelayUntil(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	due := start.Add(time.Hour)

	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "now").Return("wamid.1", nil).Once()

	report, err := f.dispatcher.Dispatch(ctx, f.target, []models.Effect{
		models.SendMessage{Text: "now"},
		models.DelayUntil{Until: due},
		models.SendMessage{Text: "later"},
		models.AddTag{Tag: "followed-up"},
	})
	require.NoError(t, err)
	require.NotNil(t, report.ScheduledAt)
	assert.Equal(t, due, *report.ScheduledAt)
	assert.Equal(t, 1, report.Sent)

	drained, err := f.dispatcher.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, drained, "nothing is due yet")

	*f.now = due

	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "later").Return("wamid.2", nil).Once()

	drained, err = f.dispatcher.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	drained, err = f.dispatcher.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, drained, "a batch is released once")

	contact, err := f.store.Contacts().ByID(ctx, f.target.Contact.ID)
	require.NoError(t, err)
	assert.True(t, contact.HasTag("followed-up"))

	f.sender.AssertExpectations(t)
	f.sender.AssertNumberOfCalls(t, "SendText", 2)
}

func TestDispatcher_PastDelayIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "after").Return("wamid.1", nil).Once()

	report, err := f.dispatcher.Dispatch(context.Background(), f.target, []models.Effect{
		models.DelayUntil{Until: start.Add(-time.Minute)},
		models.SendMessage{Text: "after"},
	})
	require.NoError(t, err)
	assert.Nil(t, report.ScheduledAt)
	assert.Equal(t, 1, report.Sent)
}

func TestDispatcher_DrainDueCompletesBrokenBatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.ScheduledEffects().Save(ctx, &models.ScheduledEffects{
		ID:        "batch-1",
		OwnerID:   "acct-1",
		ContactID: "missing-contact",
		FlowID:    "flow-1",
		DueAt:     start,
		Effects:   []models.Effect{models.SendMessage{Text: "lost"}},
		CreatedAt: start,
	}))

	drained, err := f.dispatcher.DrainDue(ctx, 10)
	assert.Equal(t, 1, drained)
	require.Error(t, err)

	drained, err = f.dispatcher.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, drained)

	f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_StorageErrorsStopDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.target.Contact = &models.Contact{ID: "missing", Phone: "5511"}

	_, err := f.dispatcher.Dispatch(context.Background(), f.target, []models.Effect{
		models.SetVariable{Name: "plan", Value: "gold"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrUnknownEffectType))
}

func TestDispatcher_KeyedDispatchResumes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.target.Contact = &models.Contact{ID: "missing", Phone: "5511999999999"}
	f.target.Key = dispatch.EffectKey("wamid.ONCE", "flow-1")

	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "Welcome").Return("wamid.OUT", nil).Once()

	effects := []models.Effect{
		models.SendMessage{Text: "Welcome"},
		models.SetVariable{Name: "stage", Value: "greeted"},
	}

	report, err := f.dispatcher.Dispatch(ctx, f.target, effects)
	require.Error(t, err)
	assert.Equal(t, 1, report.Sent)

	report, err = f.dispatcher.Dispatch(ctx, f.target, effects)
	require.Error(t, err, "the failed effect was left unmarked")
	assert.Zero(t, report.Sent)
	assert.Equal(t, 1, report.Skipped)

	f.sender.AssertNumberOfCalls(t, "SendText", 1)
}

func TestDispatcher_KeyedDelayIsScheduledOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.target.Key = dispatch.EffectKey("wamid.ONCE", "flow-1")

	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "now").Return("wamid.1", nil).Once()
	f.sender.On("SendText", mock.Anything, "1000", "5511999999999", "later").Return("wamid.2", nil).Once()

	effects := []models.Effect{
		models.SendMessage{Text: "now"},
		models.DelayUntil{Until: start.Add(time.Hour)},
		models.SendMessage{Text: "later"},
	}

	for range 2 {
		report, err := f.dispatcher.Dispatch(ctx, f.target, effects)
		require.NoError(t, err)
		require.NotNil(t, report.ScheduledAt)
	}

	*f.now = start.Add(2 * time.Hour)

	drained, err := f.dispatcher.DrainDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	f.sender.AssertExpectations(t)
	f.sender.AssertNumberOfCalls(t, "SendText", 2)
}

func TestEffectKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventID  string
		flowID   string
		expected string
	}{
		{"wamid.A", "flow-1", "effects:wamid.A:flow-1"},
		{"wamid.A", "", "effects:wamid.A:chatbot"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, dispatch.EffectKey(tt.eventID, tt.flowID))
	}
}
