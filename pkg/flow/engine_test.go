package flow_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(opts ...flow.Option) *flow.Engine {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return flow.NewEngine(logger, opts...)
}

func payload(text string) map[string]any {
	return map[string]any{flow.PayloadText: text}
}

func TestEngine_RefundScenario(t *testing.T) {
	t.Parallel()

	engine := newEngine()
	refunds := testutil.CreateTestFlow(testutil.RefundFlow())
	contact := testutil.CreateTestContact()

	tests := []struct {
		input    string
		expected string
	}{
		{"I want a refund", "Sorry, escalating"},
		{"REFUND please", "Sorry, escalating"},
		{"hello", "Thanks for reaching out"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			result := engine.RunFlow(refunds, contact, payload(tt.input))

			require.NoError(t, result.Err)
			assert.True(t, result.Completed())
			assert.Equal(t, []models.Effect{models.SendMessage{Text: tt.expected}}, result.Effects)
			assert.Equal(t, 2, result.Context.VisitedHops)
		})
	}
}

func TestEngine_CycleAbortsWithInfiniteLoop(t *testing.T) {
	t.Parallel()

	looping := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{
			testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
			testutil.Message("a", "ping"),
			testutil.Message("b", "pong"),
		},
		testutil.Edge("t", "a"), testutil.Edge("a", "b"), testutil.Edge("b", "a"),
	))

	result := newEngine().RunFlow(looping, testutil.CreateTestContact(), payload("hi"))

	assert.Equal(t, models.RunStatusAborted, result.Status)
	assert.True(t, flow.IsInfiniteLoop(result.Err))
	assert.Equal(t, flow.DefaultMaxHops, result.Context.VisitedHops)
	assert.Empty(t, result.Effects)
	assert.Empty(t, result.Context.Effects)
}

func TestEngine_CustomHopLimit(t *testing.T) {
	t.Parallel()

	looping := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{
			testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
			testutil.Action("a", models.ActionTypeAddTag, map[string]any{"tag": "x"}),
			testutil.Action("b", models.ActionTypeAddTag, map[string]any{"tag": "y"}),
		},
		testutil.Edge("t", "a"), testutil.Edge("a", "b"), testutil.Edge("b", "a"),
	))

	result := newEngine(flow.WithMaxHops(5)).RunFlow(looping, testutil.CreateTestContact(), nil)

	assert.ErrorIs(t, result.Err, flow.ErrInfiniteLoop)
	assert.Equal(t, 5, result.Context.VisitedHops)
}

func TestEngine_UnknownActionTypeAbortsWithoutEffects(t *testing.T) {
	t.Parallel()

	broken := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{
			testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
			testutil.Message("greet", "hello"),
			testutil.Action("launch", "launch_rocket", nil),
		},
		testutil.Edge("t", "greet"), testutil.Edge("greet", "launch"),
	))

	result := newEngine().RunFlow(broken, testutil.CreateTestContact(), payload("hi"))

	assert.Equal(t, models.RunStatusAborted, result.Status)
	assert.True(t, flow.IsConfigurationError(result.Err))
	assert.ErrorIs(t, result.Err, flow.ErrUnknownActionType)
	assert.Empty(t, result.Effects)

	var configErr *flow.ConfigurationError
	require.ErrorAs(t, result.Err, &configErr)
	assert.Equal(t, "launch", configErr.NodeID)
}

func TestEngine_MissingBranchCompletes(t *testing.T) {
	t.Parallel()

	onlyTrue := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{
			testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
			testutil.Condition("c", flow.PredicateEquals, map[string]any{"value": "yes"}),
			testutil.Message("m", "confirmed"),
		},
		testutil.Edge("t", "c"), testutil.TrueEdge("c", "m"),
	))

	result := newEngine().RunFlow(onlyTrue, testutil.CreateTestContact(), payload("no"))

	require.NoError(t, result.Err)
	assert.True(t, result.Completed())
	assert.Empty(t, result.Effects)
}

func TestEngine_TriggerWithoutEdgesCompletes(t *testing.T) {
	t.Parallel()

	lonely := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{testutil.Trigger("t", models.TriggerTypeMessageReceived, nil)},
	))

	result := newEngine().RunFlow(lonely, testutil.CreateTestContact(), nil)

	assert.True(t, result.Completed())
	assert.Zero(t, result.Context.VisitedHops)
}

func TestEngine_ActionsProduceOrderedEffects(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	onboarding := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{
			testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
			testutil.Action("stage", models.ActionTypeSetVariable, map[string]any{"name": "stage", "value": "trial for {{name}}"}),
			testutil.Action("tag", models.ActionTypeAddTag, map[string]any{"tag": "lead"}),
			testutil.Message("welcome", "Hi {{name}}, you are on {{stage}}. Plan: {{plan}}"),
			testutil.Action("wait", models.ActionTypeDelay, map[string]any{"hours": 24}),
			testutil.Action("follow", models.ActionTypeSendMessage, map[string]any{"text": "Still there, {{name}}?"}),
		},
		testutil.Edge("t", "stage"),
		testutil.Edge("stage", "tag"),
		testutil.Edge("tag", "welcome"),
		testutil.Edge("welcome", "wait"),
		testutil.Edge("wait", "follow"),
	))

	engine := newEngine(flow.WithClock(func() time.Time { return now }))
	result := engine.RunFlow(onboarding, testutil.CreateTestContact(), payload("start"))

	require.NoError(t, result.Err)
	assert.Equal(t, []models.Effect{
		models.SetVariable{Name: "stage", Value: "trial for Ana"},
		models.AddTag{Tag: "lead"},
		models.SendMessage{Text: "Hi Ana, you are on trial for Ana. Plan: "},
		models.DelayUntil{Until: now.Add(24 * time.Hour)},
		models.SendMessage{Text: "Still there, Ana?"},
	}, result.Effects)
	assert.Equal(t, 5, result.Context.VisitedHops)
}

func TestEngine_ConditionOnContactVariable(t *testing.T) {
	t.Parallel()

	vip := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{
			testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
			testutil.Condition("c", flow.PredicateEquals, map[string]any{"field": "tier", "value": "gold"}),
			testutil.Message("vip", "Priority line"),
			testutil.Message("std", "Standard line"),
		},
		testutil.Edge("t", "c"), testutil.TrueEdge("c", "vip"), testutil.FalseEdge("c", "std"),
	))

	gold := testutil.CreateTestContact(func(c *models.Contact) { c.Variables["tier"] = "Gold" })
	plain := testutil.CreateTestContact()

	engine := newEngine()

	assert.Equal(t, []models.Effect{models.SendMessage{Text: "Priority line"}}, engine.RunFlow(vip, gold, nil).Effects)
	assert.Equal(t, []models.Effect{models.SendMessage{Text: "Standard line"}}, engine.RunFlow(vip, plain, nil).Effects)
}

func TestEngine_InvalidFlowAborts(t *testing.T) {
	t.Parallel()

	invalid := testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{testutil.Message("m", "orphan")},
	))

	result := newEngine().RunFlow(invalid, testutil.CreateTestContact(), nil)

	assert.Equal(t, models.RunStatusAborted, result.Status)
	assert.ErrorIs(t, result.Err, flow.ErrNoTrigger)
}

func TestEngine_BadDelayConfig(t *testing.T) {
	t.Parallel()

	for name, config := range map[string]map[string]any{
		"missing":   {},
		"negative":  {"seconds": -5},
		"bad until": {"until": "tomorrow"},
		"bad unit":  {"minutes": "a few"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			delayed := testutil.CreateTestFlow(testutil.WithGraph(
				[]*models.Node{
					testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
					testutil.Action("wait", models.ActionTypeDelay, config),
				},
				testutil.Edge("t", "wait"),
			))

			result := newEngine().RunFlow(delayed, testutil.CreateTestContact(), nil)

			assert.True(t, flow.IsConfigurationError(result.Err))
			assert.Empty(t, result.Effects)
		})
	}
}
