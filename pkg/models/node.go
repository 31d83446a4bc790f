package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeKind discriminates the closed set of node variants.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindMessage   NodeKind = "message"
	NodeKindAI        NodeKind = "ai" // Chatbot graphs only
)

// Built-in trigger types.
const (
	TriggerTypeMessageReceived = "message_received"
	TriggerTypeKeyword         = "keyword"
	TriggerTypeContact         = "contact"
)

// Built-in action types.
const (
	ActionTypeSendMessage = "send_message"
	ActionTypeSetVariable = "set_variable"
	ActionTypeAddTag      = "add_tag"
	ActionTypeDelay       = "delay"
)

var ErrUnknownNodeKind = errors.New("unknown node kind")

// NodeBody is implemented only by the node variants declared in this package.
type NodeBody interface {
	Kind() NodeKind
	isNodeBody()
}

// TriggerNode starts a flow when an inbound event matches it.
type TriggerNode struct {
	TriggerType string         `json:"trigger_type" validate:"required"`
	Config      map[string]any `json:"config,omitempty"`
}

// ConditionNode evaluates a predicate and follows the matching branch.
type ConditionNode struct {
	Predicate string         `json:"predicate" validate:"required"`
	Config    map[string]any `json:"config,omitempty"`
}

// ActionNode produces one effect.
type ActionNode struct {
	ActionType string         `json:"action_type" validate:"required"`
	Config     map[string]any `json:"config,omitempty"`
}

// MessageNode sends a templated text to the contact.
type MessageNode struct {
	Text      string   `json:"text"                validate:"required"`
	Variables []string `json:"variables,omitempty"`
}

// AINode asks the completion collaborator for a reply.
type AINode struct {
	Prompt string         `json:"prompt" validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

func (TriggerNode) Kind() NodeKind   { return NodeKindTrigger }
func (ConditionNode) Kind() NodeKind { return NodeKindCondition }
func (ActionNode) Kind() NodeKind    { return NodeKindAction }
func (MessageNode) Kind() NodeKind   { return NodeKindMessage }
func (AINode) Kind() NodeKind        { return NodeKindAI }

func (TriggerNode) isNodeBody()   {}
func (ConditionNode) isNodeBody() {}
func (ActionNode) isNodeBody()    {}
func (MessageNode) isNodeBody()   {}
func (AINode) isNodeBody()        {}

// Node is a vertex of a flow or chatbot graph.
type Node struct {
	ID   string `validate:"required"`
	Name string
	Body NodeBody
}

// Kind returns the variant of the node body, or an empty kind for a bodiless node.
func (n *Node) Kind() NodeKind {
	if n == nil || n.Body == nil {
		return ""
	}

	return n.Body.Kind()
}

type nodeJSON struct {
	ID   string          `json:"id"`
	Name string          `json:"name,omitempty"`
	Type NodeKind        `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	if n.Body == nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, ErrUnknownNodeKind)
	}

	data, err := json.Marshal(n.Body)
	if err != nil {
		return nil, err
	}

	return json.Marshal(nodeJSON{ID: n.ID, Name: n.Name, Type: n.Body.Kind(), Data: data})
}

func (n *Node) UnmarshalJSON(raw []byte) error {
	var wire nodeJSON

	err := json.Unmarshal(raw, &wire)
	if err != nil {
		return err
	}

	var body NodeBody

	switch wire.Type {
	case NodeKindTrigger:
		body, err = decodeBody[TriggerNode](wire.Data)
	case NodeKindCondition:
		body, err = decodeBody[ConditionNode](wire.Data)
	case NodeKindAction:
		body, err = decodeBody[ActionNode](wire.Data)
	case NodeKindMessage:
		body, err = decodeBody[MessageNode](wire.Data)
	case NodeKindAI:
		body, err = decodeBody[AINode](wire.Data)
	default:
		return fmt.Errorf("node %s has type %q: %w", wire.ID, wire.Type, ErrUnknownNodeKind)
	}

	if err != nil {
		return fmt.Errorf("failed to decode node %s: %w", wire.ID, err)
	}

	n.ID = wire.ID
	n.Name = wire.Name
	n.Body = body

	return nil
}

func decodeBody[T NodeBody](data json.RawMessage) (NodeBody, error) {
	var body T

	if len(data) == 0 || string(data) == "null" {
		return body, nil
	}

	err := json.Unmarshal(data, &body)

	return body, err
}
