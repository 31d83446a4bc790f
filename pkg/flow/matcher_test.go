package flow_test

import (
	"testing"

	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileTrigger(t *testing.T, triggerType string, config map[string]any) *flow.Graph {
	t.Helper()

	graph, err := flow.Compile(testutil.CreateTestFlow(testutil.WithGraph(
		[]*models.Node{testutil.Trigger("t", triggerType, config)},
	)))
	require.NoError(t, err)

	return graph
}

func TestMatchTrigger(t *testing.T) {
	t.Parallel()

	vip := testutil.CreateTestContact(func(c *models.Contact) {
		c.Phone = "5511988887777"
		c.Tags = []string{"vip"}
	})

	tests := []struct {
		name        string
		triggerType string
		config      map[string]any
		text        string
		want        bool
		wantErr     error
	}{
		{"any message", models.TriggerTypeMessageReceived, nil, "whatever", true, nil},
		{"keyword contained", models.TriggerTypeKeyword, map[string]any{"keywords": []any{"price", "cost"}}, "What is the COST?", true, nil},
		{"keyword missing", models.TriggerTypeKeyword, map[string]any{"keywords": []any{"price"}}, "hello", false, nil},
		{"keyword exact", models.TriggerTypeKeyword, map[string]any{"keyword": "menu", "match": "exact"}, " Menu ", true, nil},
		{"keyword exact mismatch", models.TriggerTypeKeyword, map[string]any{"keyword": "menu", "match": "exact"}, "menu please", false, nil},
		{"keyword starts with", models.TriggerTypeKeyword, map[string]any{"keyword": "stop", "match": "starts_with"}, "STOP now", true, nil},
		{"keyword comma list", models.TriggerTypeKeyword, map[string]any{"keywords": "hi, hello"}, "hello there", true, nil},
		{"keyword without keywords", models.TriggerTypeKeyword, map[string]any{}, "hi", false, flow.ErrMissingConfigField},
		{"keyword bad mode", models.TriggerTypeKeyword, map[string]any{"keyword": "x", "match": "fuzzy"}, "y", false, flow.ErrInvalidConfigField},
		{"contact by phone", models.TriggerTypeContact, map[string]any{"contacts": []any{"+55 11 98888-7777"}}, "hi", true, nil},
		{"contact by tag", models.TriggerTypeContact, map[string]any{"tags": []any{"vip"}}, "hi", true, nil},
		{"other contact", models.TriggerTypeContact, map[string]any{"contacts": []any{"5511000000000"}}, "hi", false, nil},
		{"contact without config", models.TriggerTypeContact, nil, "hi", false, flow.ErrMissingConfigField},
		{"unknown trigger", "cron", nil, "hi", false, flow.ErrUnknownTriggerType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			graph := compileTrigger(t, tt.triggerType, tt.config)
			event := testutil.InboundMessage("wamid.1", vip.Phone, tt.text)

			matched, err := flow.MatchTrigger(graph, event, vip)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, flow.IsConfigurationError(err))
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.want, matched)
		})
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		predicate string
		config    map[string]any
		text      string
		want      bool
	}{
		{"contains", flow.PredicateContains, map[string]any{"value": "refund"}, "I want a Refund", true},
		{"contains case sensitive", flow.PredicateContains, map[string]any{"value": "refund", "case_sensitive": true}, "I want a Refund", false},
		{"not contains", flow.PredicateNotContains, map[string]any{"value": "refund"}, "hello", true},
		{"equals trims", flow.PredicateEquals, map[string]any{"value": "yes"}, " YES ", true},
		{"starts with", flow.PredicateStartsWith, map[string]any{"value": "order"}, "Order #12", true},
		{"ends with", flow.PredicateEndsWith, map[string]any{"value": "?"}, "is it open?", true},
		{"exists", flow.PredicateExists, nil, "anything", true},
		{"exists empty", flow.PredicateExists, nil, "   ", false},
		{"matches", flow.PredicateMatches, map[string]any{"value": `^\d{5}$`}, "12345", true},
		{"matches miss", flow.PredicateMatches, map[string]any{"value": `^\d{5}$`}, "1234a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			graph := testutil.CreateTestFlow(testutil.WithGraph(
				[]*models.Node{
					testutil.Trigger("t", models.TriggerTypeMessageReceived, nil),
					testutil.Condition("c", tt.predicate, tt.config),
					testutil.Message("yes", "true"),
					testutil.Message("no", "false"),
				},
				testutil.Edge("t", "c"), testutil.TrueEdge("c", "yes"), testutil.FalseEdge("c", "no"),
			))

			result := newEngine().RunFlow(graph, testutil.CreateTestContact(), payload(tt.text))
			require.NoError(t, result.Err)

			expected := "false"
			if tt.want {
				expected = "true"
			}

			assert.Equal(t, []models.Effect{models.SendMessage{Text: expected}}, result.Effects)
		})
	}
}

func TestPredicates_Misconfigured(t *testing.T) {
	t.Parallel()

	for name, node := range map[string]*models.Node{
		"unknown operator": testutil.Condition("c", "sounds_like", map[string]any{"value": "x"}),
		"missing value":    testutil.Condition("c", flow.PredicateContains, nil),
		"bad regexp":       testutil.Condition("c", flow.PredicateMatches, map[string]any{"value": "("}),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			graph := testutil.CreateTestFlow(testutil.WithGraph(
				[]*models.Node{testutil.Trigger("t", models.TriggerTypeMessageReceived, nil), node},
				testutil.Edge("t", "c"),
			))

			result := newEngine().RunFlow(graph, testutil.CreateTestContact(), payload("x"))

			assert.Equal(t, models.RunStatusAborted, result.Status)
			assert.True(t, flow.IsConfigurationError(result.Err))
		})
	}
}
