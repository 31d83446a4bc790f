// Package persistencetest holds the behaviour every persistence backend must
// share, run against a fresh store by each backend's tests.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store and a context bound to the test.
type Factory func(t *testing.T) (persistence.Persistence, context.Context)

// Run runs the whole contract as subtests.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("jobs", func(t *testing.T) { testJobs(t, factory) })
	t.Run("job claims are exclusive", func(t *testing.T) { testExclusiveClaims(t, factory) })
	t.Run("ledger", func(t *testing.T) { testLedger(t, factory) })
	t.Run("contacts", func(t *testing.T) { testContacts(t, factory) })
	t.Run("messages", func(t *testing.T) { testMessages(t, factory) })
	t.Run("flows and chatbots", func(t *testing.T) { testGraphs(t, factory) })
	t.Run("flow runs", func(t *testing.T) { testFlowRuns(t, factory) })
	t.Run("scheduled effects", func(t *testing.T) { testScheduledEffects(t, factory) })
}

func newJob(id string, now time.Time) *models.QueuedJob {
	return &models.QueuedJob{
		ID:            id,
		InternalRef:   "5511999999999",
		Payload:       []byte(`{"provider_event_id":"` + id + `"}`),
		Status:        models.JobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func testJobs(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	jobs := store.Jobs()
	now := time.Now().UTC().Truncate(time.Millisecond)

	inserted, err := jobs.Insert(ctx, newJob("wamid.1", now))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = jobs.Insert(ctx, newJob("wamid.1", now))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate provider event IDs are ignored")

	_, err = jobs.Insert(ctx, newJob("wamid.later", now.Add(time.Hour)))
	require.NoError(t, err)

	claimed, err := jobs.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "jobs scheduled in the future are not eligible")
	assert.Equal(t, "wamid.1", claimed[0].ID)
	assert.Equal(t, models.JobStatusInFlight, claimed[0].Status)
	assert.Equal(t, `{"provider_event_id":"wamid.1"}`, string(claimed[0].Payload))
	require.NotNil(t, claimed[0].ClaimedAt)

	again, err := jobs.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "in-flight jobs are never claimed twice")

	retryAt := now.Add(5 * time.Second)
	require.NoError(t, jobs.Reschedule(ctx, "wamid.1", 1, retryAt, "timeout", now))

	job, err := jobs.Get(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "timeout", job.LastError)
	assert.WithinDuration(t, retryAt, job.NextAttemptAt, time.Millisecond)

	err = jobs.MarkSucceeded(ctx, "wamid.1", now)
	assert.ErrorIs(t, err, persistence.ErrJobNotInFlight)

	claimed, err = jobs.Claim(ctx, retryAt, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, jobs.MarkFailed(ctx, "wamid.1", 5, "gave up", now))

	failed, err := jobs.ListByStatus(ctx, models.JobStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 5, failed[0].Attempts)
	assert.Equal(t, "gave up", failed[0].LastError)

	require.NoError(t, jobs.Requeue(ctx, "wamid.1", now))

	job, err = jobs.Get(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Zero(t, job.Attempts)

	assert.ErrorIs(t, jobs.Requeue(ctx, "wamid.1", now), persistence.ErrJobNotFailed)
	assert.ErrorIs(t, jobs.Requeue(ctx, "missing", now), persistence.ErrJobNotFound)

	_, err = jobs.Get(ctx, "missing")
	assert.True(t, persistence.IsJobNotFound(err))

	claimed, err = jobs.Claim(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, jobs.MarkSucceeded(ctx, "wamid.1", now))

	stale, err := jobs.ListStale(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale, "succeeded jobs are not stale")

	_, err = jobs.Insert(ctx, newJob("wamid.stuck", now))
	require.NoError(t, err)

	_, err = jobs.Claim(ctx, now, 1)
	require.NoError(t, err)

	stale, err = jobs.ListStale(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "wamid.stuck", stale[0].ID)

	stale, err = jobs.ListStale(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func testExclusiveClaims(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	jobs := store.Jobs()
	now := time.Now().UTC()

	const total = 40

	for i := range total {
		_, err := jobs.Insert(ctx, newJob(fmt.Sprintf("wamid.%d", i), now))
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    = map[string]int{}
		claimed atomic.Int64
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				batch, err := jobs.Claim(ctx, now, 3)
				if !assert.NoError(t, err) || len(batch) == 0 {
					return
				}

				mu.Lock()
				for _, job := range batch {
					seen[job.ID]++
				}
				mu.Unlock()

				claimed.Add(int64(len(batch)))
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(total), claimed.Load())

	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func testLedger(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	ledger := store.Ledger()

	var (
		wg    sync.WaitGroup
		fresh atomic.Int64
	)

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			isNew, err := ledger.MarkIfNew(ctx, "wamid.ABC")
			if assert.NoError(t, err) && isNew {
				fresh.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(1), fresh.Load(), "exactly one concurrent caller sees a new id")

	require.NoError(t, ledger.Release(ctx, "wamid.ABC"))

	isNew, err := ledger.MarkIfNew(ctx, "wamid.ABC")
	require.NoError(t, err)
	assert.True(t, isNew, "released ids are processed again")

	pruned, err := ledger.Prune(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)

	pruned, err = ledger.Prune(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	isNew, err = ledger.MarkIfNew(ctx, "wamid.ABC")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func testContacts(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	contacts := store.Contacts()

	first, err := contacts.Upsert(ctx, "acct-1", "5511999999999", "Ana")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "Ana", first.Name)

	second, err := contacts.Upsert(ctx, "acct-1", "5511999999999", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana", second.Name, "an empty name does not erase the stored one")

	other, err := contacts.Upsert(ctx, "acct-2", "5511999999999", "Ana")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "contacts are scoped by owner")

	require.NoError(t, contacts.SetVariable(ctx, first.ID, "plan", "gold"))
	require.NoError(t, contacts.SetVariable(ctx, first.ID, "plan", "platinum"))
	require.NoError(t, contacts.AddTag(ctx, first.ID, "vip"))
	require.NoError(t, contacts.AddTag(ctx, first.ID, "vip"))

	loaded, err := contacts.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plan": "platinum"}, loaded.Variables)
	assert.Equal(t, []string{"vip"}, loaded.Tags)

	_, err = contacts.ByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, persistence.ErrContactNotFound)
}

func testMessages(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	messages := store.Messages()
	now := time.Now().UTC()

	contact, err := store.Contacts().Upsert(ctx, "acct-1", "5511999999999", "Ana")
	require.NoError(t, err)

	outbound := &models.Message{
		ID:                uuid.New().String(),
		OwnerID:           "acct-1",
		ContactID:         contact.ID,
		ProviderMessageID: "wamid.OUT",
		Direction:         models.DirectionOutbound,
		Body:              "hello",
		Status:            models.DeliveryStatusSent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	inserted, err := messages.Save(ctx, outbound)
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := *outbound
	duplicate.ID = uuid.New().String()

	inserted, err = messages.Save(ctx, &duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	steps := []struct {
		status  models.DeliveryStatus
		applied bool
		result  models.DeliveryStatus
	}{
		{models.DeliveryStatusRead, true, models.DeliveryStatusRead},
		{models.DeliveryStatusDelivered, false, models.DeliveryStatusRead},
		{models.DeliveryStatusFailed, true, models.DeliveryStatusFailed},
		{models.DeliveryStatusRead, false, models.DeliveryStatusFailed},
	}

	for _, step := range steps {
		applied, err := messages.AdvanceStatus(ctx, "wamid.OUT", step.status, now)
		require.NoError(t, err)
		assert.Equal(t, step.applied, applied, "advance to %s", step.status)

		loaded, err := messages.ByProviderID(ctx, "wamid.OUT")
		require.NoError(t, err)
		assert.Equal(t, step.result, loaded.Status)
	}

	failing := *outbound
	failing.ID = uuid.New().String()
	failing.ProviderMessageID = "wamid.OUT2"

	_, err = messages.Save(ctx, &failing)
	require.NoError(t, err)

	applied, err := messages.AdvanceStatus(ctx, "wamid.OUT2", models.DeliveryStatusFailed, now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = messages.AdvanceStatus(ctx, "wamid.OUT2", models.DeliveryStatusDelivered, now)
	require.NoError(t, err)
	assert.False(t, applied, "failed is terminal")

	_, err = messages.AdvanceStatus(ctx, "wamid.UNKNOWN", models.DeliveryStatusRead, now)
	assert.True(t, persistence.IsMessageNotFound(err))
}

func testGraphs(t *testing.T, factory Factory) {
	store, ctx := factory(t)

	active := testutil.CreateTestFlow(testutil.RefundFlow())
	inactive := testutil.CreateTestFlow(testutil.WithStatus(models.FlowStatusInactive))
	foreign := testutil.CreateTestFlow(testutil.WithOwner("acct-2"))

	for _, flow := range []*models.FlowGraph{active, inactive, foreign} {
		require.NoError(t, store.Flows().Save(ctx, flow))
	}

	flows, err := store.Flows().ActiveByOwner(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, active.ID, flows[0].ID)
	assert.Len(t, flows[0].Nodes, 4)
	assert.Equal(t, active.Edges, flows[0].Edges)

	condition, ok := flows[0].Nodes["is-refund"].Body.(models.ConditionNode)
	require.True(t, ok)
	assert.Equal(t, "refund", condition.Config["value"])

	loaded, err := store.Flows().ByID(ctx, inactive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusInactive, loaded.Status)

	_, err = store.Flows().ByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

	_, err = store.Chatbots().ActiveByOwner(ctx, "acct-1")
	assert.ErrorIs(t, err, persistence.ErrChatbotNotFound)

	bot := testutil.CreateTestChatbot()
	require.NoError(t, store.Chatbots().Save(ctx, bot))

	loadedBot, err := store.Chatbots().ActiveByOwner(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, bot.ID, loadedBot.ID)
	assert.Equal(t, models.NodeKindAI, loadedBot.Nodes["ai"].Kind())

	_, err = store.Chatbots().ByID(ctx, bot.ID)
	require.NoError(t, err)
}

func testFlowRuns(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	runs := store.FlowRuns()
	flowID := uuid.New().String()
	now := time.Now().UTC()

	for i, status := range []models.RunStatus{models.RunStatusCompleted, models.RunStatusAborted} {
		require.NoError(t, runs.Save(ctx, &models.FlowRun{
			ID:          uuid.New().String(),
			FlowID:      flowID,
			OwnerID:     "acct-1",
			ContactID:   uuid.New().String(),
			EventID:     fmt.Sprintf("wamid.%d", i),
			Status:      status,
			VisitedHops: 100,
			Error:       "flow exceeded the hop limit",
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
		}))
	}

	latest, err := runs.ByFlow(ctx, flowID, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, models.RunStatusAborted, latest[0].Status)

	all, err := runs.ByFlow(ctx, flowID, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testScheduledEffects(t *testing.T, factory Factory) {
	store, ctx := factory(t)
	scheduled := store.ScheduledEffects()
	now := time.Now().UTC().Truncate(time.Second)

	due := &models.ScheduledEffects{
		ID:        uuid.New().String(),
		OwnerID:   "acct-1",
		ContactID: uuid.New().String(),
		FlowID:    uuid.New().String(),
		DueAt:     now,
		Effects:   []models.Effect{models.SendMessage{Text: "reminder"}, models.AddTag{Tag: "nudged"}},
		CreatedAt: now,
	}
	later := &models.ScheduledEffects{
		ID:        uuid.New().String(),
		OwnerID:   "acct-1",
		ContactID: due.ContactID,
		DueAt:     now.Add(time.Hour),
		Effects:   []models.Effect{models.SendMessage{Text: "later"}},
		CreatedAt: now,
	}

	require.NoError(t, scheduled.Save(ctx, due))
	require.NoError(t, scheduled.Save(ctx, later))

	claimed, err := scheduled.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, due.Effects, claimed[0].Effects)

	again, err := scheduled.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed batches are released once")

	require.NoError(t, scheduled.Complete(ctx, due.ID))

	claimed, err = scheduled.ClaimDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, later.ID, claimed[0].ID)
}
