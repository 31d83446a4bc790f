package flow_test

import (
	"testing"

	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Parallel()

	trigger := testutil.Trigger("t", models.TriggerTypeMessageReceived, nil)
	reply := testutil.Message("m", "hi")
	condition := testutil.Condition("c", flow.PredicateContains, map[string]any{"value": "x"})

	tests := []struct {
		name    string
		nodes   []*models.Node
		edges   []models.Edge
		wantErr error
	}{
		{
			name:  "valid linear flow",
			nodes: []*models.Node{trigger, reply},
			edges: []models.Edge{testutil.Edge("t", "m")},
		},
		{
			name:  "trigger only",
			nodes: []*models.Node{trigger},
		},
		{
			name:  "cycles are allowed",
			nodes: []*models.Node{trigger, reply, testutil.Message("m2", "again")},
			edges: []models.Edge{testutil.Edge("t", "m"), testutil.Edge("m", "m2"), testutil.Edge("m2", "m")},
		},
		{
			name:    "no trigger",
			nodes:   []*models.Node{reply},
			wantErr: flow.ErrNoTrigger,
		},
		{
			name:    "two triggers",
			nodes:   []*models.Node{trigger, testutil.Trigger("t2", models.TriggerTypeKeyword, nil)},
			wantErr: flow.ErrMultipleTriggers,
		},
		{
			name:    "edge into trigger",
			nodes:   []*models.Node{trigger, reply},
			edges:   []models.Edge{testutil.Edge("t", "m"), testutil.Edge("m", "t")},
			wantErr: flow.ErrTriggerHasIncoming,
		},
		{
			name:    "unreachable node",
			nodes:   []*models.Node{trigger, reply},
			wantErr: flow.ErrUnreachableNode,
		},
		{
			name:    "dangling edge",
			nodes:   []*models.Node{trigger},
			edges:   []models.Edge{testutil.Edge("t", "ghost")},
			wantErr: flow.ErrDanglingEdge,
		},
		{
			name:    "branch on non-condition edge",
			nodes:   []*models.Node{trigger, reply},
			edges:   []models.Edge{testutil.TrueEdge("t", "m")},
			wantErr: flow.ErrInvalidBranch,
		},
		{
			name:    "condition edge without branch",
			nodes:   []*models.Node{trigger, condition, reply},
			edges:   []models.Edge{testutil.Edge("t", "c"), testutil.Edge("c", "m")},
			wantErr: flow.ErrInvalidBranch,
		},
		{
			name:  "duplicate true branch",
			nodes: []*models.Node{trigger, condition, reply, testutil.Message("m2", "x")},
			edges: []models.Edge{
				testutil.Edge("t", "c"), testutil.TrueEdge("c", "m"), testutil.TrueEdge("c", "m2"),
			},
			wantErr: flow.ErrInvalidBranch,
		},
		{
			name:    "two unbranched edges",
			nodes:   []*models.Node{trigger, reply, testutil.Message("m2", "x")},
			edges:   []models.Edge{testutil.Edge("t", "m"), testutil.Edge("t", "m2")},
			wantErr: flow.ErrAmbiguousEdge,
		},
		{
			name:    "ai node in a flow",
			nodes:   []*models.Node{trigger, testutil.AI("ai", "prompt")},
			edges:   []models.Edge{testutil.Edge("t", "ai")},
			wantErr: flow.ErrNodeKindNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			graph := testutil.CreateTestFlow(testutil.WithGraph(tt.nodes, tt.edges...))

			compiled, err := flow.Compile(graph)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, flow.IsConfigurationError(err))
				assert.Nil(t, compiled)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "t", compiled.Trigger().ID)
		})
	}
}

func TestCompile_Indexes(t *testing.T) {
	t.Parallel()

	graph, err := flow.Compile(testutil.CreateTestFlow(testutil.RefundFlow()))
	require.NoError(t, err)

	node, ok := graph.Node("is-refund")
	require.True(t, ok)
	assert.Equal(t, models.NodeKindCondition, node.Kind())
	assert.Len(t, graph.Outgoing("is-refund"), 2)

	next, ok := graph.Next("trigger")
	assert.True(t, ok)
	assert.Equal(t, "is-refund", next)

	target, ok := graph.Branch("is-refund", true)
	assert.True(t, ok)
	assert.Equal(t, "escalate", target)

	target, ok = graph.Branch("is-refund", false)
	assert.True(t, ok)
	assert.Equal(t, "thanks", target)

	_, ok = graph.Next("thanks")
	assert.False(t, ok)
}

func TestCompileChatbot_RejectsFlowNodes(t *testing.T) {
	t.Parallel()

	bot := testutil.CreateTestChatbot(func(b *models.Chatbot) {
		b.Nodes["c"] = testutil.Condition("c", flow.PredicateExists, nil)
		b.Edges = append(b.Edges, testutil.TrueEdge("ai", "c"))
	})

	_, err := flow.CompileChatbot(bot)
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrNodeKindNotAllowed)
}
