// Package chatbot answers free text with the Trigger -> Message | AI chain of a chatbot.
package chatbot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/ai"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/template"
)

const (
	defaultCompletionTimeout = 20 * time.Second
	inputVariable            = "input"
)

// Runtime produces chatbot replies. A reply is either text or nothing; it
// never returns an error to the caller.
type Runtime struct {
	completer ai.Completer
	logger    *slog.Logger
	timeout   time.Duration
}

func NewRuntime(logger *slog.Logger, completer ai.Completer, timeout time.Duration) *Runtime {
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}

	return &Runtime{
		completer: completer,
		logger:    logger.With("module", "chatbot_runtime"),
		timeout:   timeout,
	}
}

// Reply follows the edge leaving the trigger and answers with the node it
// reaches. ok is false when the bot has nothing to say.
func (r *Runtime) Reply(ctx context.Context, bot *models.Chatbot, userInput string) (string, bool) {
	logger := r.logger.With("chatbot_id", bot.ID)

	graph, err := flow.CompileChatbot(bot)
	if err != nil {
		logger.WarnContext(ctx, "Chatbot graph is invalid", "error", err)

		return "", false
	}

	next, ok := graph.Next(graph.Trigger().ID)
	if !ok {
		return "", false
	}

	node, _ := graph.Node(next)

	switch body := node.Body.(type) {
	case models.MessageNode:
		return nonEmpty(template.Render(body.Text, map[string]string{inputVariable: userInput}))
	case models.AINode:
		return r.complete(ctx, logger, body, userInput)
	default:
		logger.WarnContext(ctx, "Unsupported chatbot node", "node_id", node.ID, "kind", node.Kind())

		return "", false
	}
}

func (r *Runtime) complete(ctx context.Context, logger *slog.Logger, node models.AINode, userInput string) (string, bool) {
	if r.completer == nil {
		logger.WarnContext(ctx, "No completion collaborator configured")

		return "", false
	}

	prompt := buildPrompt(node.Prompt, userInput)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		logger.WarnContext(ctx, "Completion failed", "error", err)

		return "", false
	}

	return nonEmpty(text)
}

// buildPrompt substitutes {{input}} or appends the input when the template
// does not reference it.
func buildPrompt(promptTemplate, userInput string) string {
	for _, name := range template.Names(promptTemplate) {
		if name == inputVariable {
			return template.Render(promptTemplate, map[string]string{inputVariable: userInput})
		}
	}

	return strings.TrimSpace(promptTemplate) + "\n\n" + userInput
}

func nonEmpty(text string) (string, bool) {
	text = strings.TrimSpace(text)

	return text, text != ""
}
