package chatbot_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/chatbot"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRuntime_ReplyWithAI(t *testing.T) {
	t.Parallel()

	completer := &mocks.MockCompleter{}
	completer.On("Complete", mock.Anything, "You are a helpful assistant. User: when do you open?").
		Return("We open at 9am.", nil).Once()

	runtime := chatbot.NewRuntime(slog.Default(), completer, time.Second)

	text, ok := runtime.Reply(context.Background(), testutil.CreateTestChatbot(), "when do you open?")

	assert.True(t, ok)
	assert.Equal(t, "We open at 9am.", text)
	completer.AssertExpectations(t)
}

func TestRuntime_PromptWithoutInputPlaceholder(t *testing.T) {
	t.Parallel()

	completer := &mocks.MockCompleter{}
	completer.On("Complete", mock.Anything, "Answer briefly.\n\nhi").Return("Hello!", nil).Once()

	bot := testutil.CreateTestChatbot(func(b *models.Chatbot) {
		b.Nodes["ai"] = testutil.AI("ai", "Answer briefly.")
	})

	text, ok := chatbot.NewRuntime(slog.Default(), completer, 0).Reply(context.Background(), bot, "hi")

	assert.True(t, ok)
	assert.Equal(t, "Hello!", text)
}

func TestRuntime_ReplyNone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		completion string
		err        error
	}{
		{"completion fails", "", errors.New("upstream unavailable")},
		{"completion times out", "", context.DeadlineExceeded},
		{"completion is blank", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			completer := &mocks.MockCompleter{}
			completer.On("Complete", mock.Anything, mock.Anything).Return(tt.completion, tt.err)

			text, ok := chatbot.NewRuntime(slog.Default(), completer, time.Second).
				Reply(context.Background(), testutil.CreateTestChatbot(), "hello")

			assert.False(t, ok)
			assert.Empty(t, text)
		})
	}
}

func TestRuntime_MessageNode(t *testing.T) {
	t.Parallel()

	completer := &mocks.MockCompleter{}
	bot := testutil.CreateTestChatbot(func(b *models.Chatbot) {
		b.Nodes = map[string]*models.Node{
			"trigger": testutil.Trigger("trigger", models.TriggerTypeMessageReceived, nil),
			"static":  testutil.Message("static", "You said: {{input}}"),
		}
		b.Edges = []models.Edge{testutil.Edge("trigger", "static")}
	})

	text, ok := chatbot.NewRuntime(slog.Default(), completer, time.Second).Reply(context.Background(), bot, "ping")

	assert.True(t, ok)
	assert.Equal(t, "You said: ping", text)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRuntime_MalformedChains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		nodes []*models.Node
		edges []models.Edge
	}{
		{
			name:  "trigger without edge",
			nodes: []*models.Node{testutil.Trigger("trigger", models.TriggerTypeMessageReceived, nil)},
		},
		{
			name: "condition node",
			nodes: []*models.Node{
				testutil.Trigger("trigger", models.TriggerTypeMessageReceived, nil),
				testutil.Condition("c", "exists", nil),
			},
			edges: []models.Edge{testutil.Edge("trigger", "c")},
		},
		{
			name:  "no trigger",
			nodes: []*models.Node{testutil.Message("m", "hi")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bot := testutil.CreateTestChatbot(func(b *models.Chatbot) {
				b.Nodes = map[string]*models.Node{}
				for _, node := range tt.nodes {
					b.Nodes[node.ID] = node
				}
				b.Edges = tt.edges
			})

			_, ok := chatbot.NewRuntime(slog.Default(), &mocks.MockCompleter{}, time.Second).
				Reply(context.Background(), bot, "hi")

			assert.False(t, ok)
		})
	}
}

func TestRuntime_NoCompleter(t *testing.T) {
	t.Parallel()

	_, ok := chatbot.NewRuntime(slog.Default(), nil, time.Second).
		Reply(context.Background(), testutil.CreateTestChatbot(), "hi")

	assert.False(t, ok)
}
