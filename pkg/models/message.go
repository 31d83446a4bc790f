package models

import "time"

// Direction tells inbound messages from the ones the pipeline sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus is the provider-reported state of an outbound message.
type DeliveryStatus string

const (
	DeliveryStatusReceived  DeliveryStatus = "received" // Inbound messages only
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Rank orders the statuses: sent < delivered < read < failed. Unknown
// statuses rank 0.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered:
		return 2
	case DeliveryStatusRead:
		return 3
	case DeliveryStatusFailed:
		return 4
	default:
		return 0
	}
}

// CanAdvanceTo reports whether a message in status s may move to next. A
// status only moves up in rank, so failed is terminal.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	return next.Rank() > s.Rank()
}

// Message is a persisted WhatsApp message, inbound or outbound.
type Message struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"owner_id"`
	ContactID         string         `json:"contact_id"`
	ProviderMessageID string         `json:"provider_message_id"`
	Direction         Direction      `json:"direction"`
	Body              string         `json:"body"`
	Status            DeliveryStatus `json:"status"`
	FlowID            string         `json:"flow_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
