// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/google/uuid"
)

// Trigger creates a trigger node.
func Trigger(id, triggerType string, config map[string]any) *models.Node {
	return &models.Node{ID: id, Body: models.TriggerNode{TriggerType: triggerType, Config: config}}
}

// Condition creates a condition node.
func Condition(id, predicate string, config map[string]any) *models.Node {
	return &models.Node{ID: id, Body: models.ConditionNode{Predicate: predicate, Config: config}}
}

// Action creates an action node.
func Action(id, actionType string, config map[string]any) *models.Node {
	return &models.Node{ID: id, Body: models.ActionNode{ActionType: actionType, Config: config}}
}

// Message creates a message node.
func Message(id, text string) *models.Node {
	return &models.Node{ID: id, Body: models.MessageNode{Text: text}}
}

// AI creates an AI node.
func AI(id, prompt string) *models.Node {
	return &models.Node{ID: id, Body: models.AINode{Prompt: prompt}}
}

// Edge creates an unbranched edge.
func Edge(source, target string) models.Edge {
	return models.Edge{Source: source, Target: target}
}

// TrueEdge creates the true branch of a condition.
func TrueEdge(source, target string) models.Edge {
	return models.Edge{Source: source, Target: target, Branch: models.BranchTrue}
}

// FalseEdge creates the false branch of a condition.
func FalseEdge(source, target string) models.Edge {
	return models.Edge{Source: source, Target: target, Branch: models.BranchFalse}
}

// CreateTestFlow creates an active flow replying to every message, with
// overrides applied in order.
func CreateTestFlow(overrides ...func(*models.FlowGraph)) *models.FlowGraph {
	now := time.Now().UTC()
	flow := &models.FlowGraph{
		ID:      uuid.New().String(),
		OwnerID: "acct-1",
		Name:    "Test Flow",
		Status:  models.FlowStatusActive,
		Nodes: map[string]*models.Node{
			"trigger": Trigger("trigger", models.TriggerTypeMessageReceived, nil),
			"reply":   Message("reply", "Thanks for reaching out"),
		},
		Edges:     []models.Edge{Edge("trigger", "reply")},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(flow)
	}

	return flow
}

// WithGraph replaces the nodes and edges of the flow.
func WithGraph(nodes []*models.Node, edges ...models.Edge) func(*models.FlowGraph) {
	return func(f *models.FlowGraph) {
		f.Nodes = make(map[string]*models.Node, len(nodes))
		for _, node := range nodes {
			f.Nodes[node.ID] = node
		}

		f.Edges = edges
	}
}

// WithOwner sets the owner of the flow.
func WithOwner(ownerID string) func(*models.FlowGraph) {
	return func(f *models.FlowGraph) {
		f.OwnerID = ownerID
	}
}

// WithStatus sets the status of the flow.
func WithStatus(status models.FlowStatus) func(*models.FlowGraph) {
	return func(f *models.FlowGraph) {
		f.Status = status
	}
}

// RefundFlow branches on the word "refund".
func RefundFlow() func(*models.FlowGraph) {
	return WithGraph(
		[]*models.Node{
			Trigger("trigger", models.TriggerTypeMessageReceived, nil),
			Condition("is-refund", "contains", map[string]any{"value": "refund"}),
			Message("escalate", "Sorry, escalating"),
			Message("thanks", "Thanks for reaching out"),
		},
		Edge("trigger", "is-refund"),
		TrueEdge("is-refund", "escalate"),
		FalseEdge("is-refund", "thanks"),
	)
}

// CreateTestContact creates a contact with overrides applied in order.
func CreateTestContact(overrides ...func(*models.Contact)) *models.Contact {
	now := time.Now().UTC()
	contact := &models.Contact{
		ID:        uuid.New().String(),
		OwnerID:   "acct-1",
		Phone:     "5511999999999",
		Name:      "Ana",
		Variables: map[string]string{},
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(contact)
	}

	return contact
}

// CreateTestChatbot creates an active chatbot with overrides applied in order.
func CreateTestChatbot(overrides ...func(*models.Chatbot)) *models.Chatbot {
	now := time.Now().UTC()
	bot := &models.Chatbot{
		ID:      uuid.New().String(),
		OwnerID: "acct-1",
		Name:    "Test Bot",
		Active:  true,
		Nodes: map[string]*models.Node{
			"trigger": Trigger("trigger", models.TriggerTypeMessageReceived, nil),
			"ai":      AI("ai", "You are a helpful assistant. User: {{input}}"),
		},
		Edges:     []models.Edge{Edge("trigger", "ai")},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(bot)
	}

	return bot
}

// InboundMessage creates a normalized inbound message event.
func InboundMessage(eventID, phone, text string) *models.InboundEvent {
	return &models.InboundEvent{
		ProviderEventID: eventID,
		Kind:            models.EventKindMessage,
		PhoneNumberID:   "1000",
		ContactRef:      phone,
		Text:            text,
		ReceivedAt:      time.Now().UTC(),
	}
}

// InboundStatus creates a normalized status update event.
func InboundStatus(messageRef, phone string, status models.DeliveryStatus) *models.InboundEvent {
	return &models.InboundEvent{
		ProviderEventID: messageRef + ":" + string(status),
		Kind:            models.EventKindStatusUpdate,
		PhoneNumberID:   "1000",
		ContactRef:      phone,
		MessageRef:      messageRef,
		Status:          status,
		ReceivedAt:      time.Now().UTC(),
	}
}
