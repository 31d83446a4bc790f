package models

import (
	"encoding/json"
	"time"
)

// EventKind is the kind of a normalized provider event.
type EventKind string

const (
	EventKindMessage      EventKind = "message"
	EventKindStatusUpdate EventKind = "status_update"
)

// InboundEvent is a provider webhook event normalized for the pipeline.
// ProviderEventID is the only dedupe key.
type InboundEvent struct {
	ProviderEventID string          `json:"provider_event_id"        validate:"required"`
	Kind            EventKind       `json:"kind"                     validate:"required,oneof=message status_update"`
	PhoneNumberID   string          `json:"phone_number_id"          validate:"required"`
	ContactRef      string          `json:"contact_ref"              validate:"required"`
	ContactName     string          `json:"contact_name,omitempty"`
	Text            string          `json:"text,omitempty"`
	MessageRef      string          `json:"message_ref,omitempty"    validate:"required_if=Kind status_update"`
	Status          DeliveryStatus  `json:"status,omitempty"         validate:"required_if=Kind status_update"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// IsMessage reports whether the event carries an inbound message.
func (e *InboundEvent) IsMessage() bool {
	return e.Kind == EventKindMessage
}
