// Package events defines the lifecycle notifications published by the pipeline.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every pipeline event. The message key is the contact or job ID
// so consumers see per-contact events in order.
const Topic = "convoflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	MessageReceivedEvent      EventType = "message.received"
	MessageStatusUpdatedEvent EventType = "message.status_updated"
	FlowRunCompletedEvent     EventType = "flow.run.completed"
	FlowRunAbortedEvent       EventType = "flow.run.aborted"
	JobDeadLetteredEvent      EventType = "job.dead_lettered"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	OwnerID   string         `json:"owner_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, ownerID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		OwnerID:   ownerID,
		Metadata:  make(map[string]any),
	}
}

type MessageReceived struct {
	BaseEvent

	MessageID         string `json:"message_id"`
	ProviderMessageID string `json:"provider_message_id"`
	ContactID         string `json:"contact_id"`
	MatchedFlows      int    `json:"matched_flows"`
}

func (e MessageReceived) GetType() EventType {
	return MessageReceivedEvent
}

type MessageStatusUpdated struct {
	BaseEvent

	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
	Applied           bool   `json:"applied"`
}

func (e MessageStatusUpdated) GetType() EventType {
	return MessageStatusUpdatedEvent
}

type FlowRunCompleted struct {
	BaseEvent

	RunID       string `json:"run_id"`
	FlowID      string `json:"flow_id"`
	ContactID   string `json:"contact_id"`
	VisitedHops int    `json:"visited_hops"`
	EffectCount int    `json:"effect_count"`
}

func (e FlowRunCompleted) GetType() EventType {
	return FlowRunCompletedEvent
}

type FlowRunAborted struct {
	BaseEvent

	RunID       string `json:"run_id"`
	FlowID      string `json:"flow_id"`
	ContactID   string `json:"contact_id"`
	VisitedHops int    `json:"visited_hops"`
	Reason      string `json:"reason"` // configuration_error, infinite_loop or panic
	Error       string `json:"error"`
}

func (e FlowRunAborted) GetType() EventType {
	return FlowRunAbortedEvent
}

type JobDeadLettered struct {
	BaseEvent

	JobID     string `json:"job_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

func (e JobDeadLettered) GetType() EventType {
	return JobDeadLetteredEvent
}
