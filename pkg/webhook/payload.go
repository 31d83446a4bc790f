// Package webhook turns WhatsApp Cloud API webhook deliveries into normalized
// inbound events.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// ObjectWhatsAppBusiness is the only object type the endpoint accepts.
const ObjectWhatsAppBusiness = "whatsapp_business_account"

var ErrUnsupportedObject = errors.New("unsupported webhook object")

// Payload is the envelope of a Cloud API webhook delivery. One delivery may
// carry several messages and statuses.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []json.RawMessage `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Document *media `json:"document"`
}

type media struct {
	Caption string `json:"caption"`
}

type status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Decode parses a raw webhook body.
func Decode(body []byte) (*Payload, error) {
	var payload Payload

	err := json.Unmarshal(body, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	if payload.Object != ObjectWhatsAppBusiness {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedObject, payload.Object)
	}

	return &payload, nil
}

// Events splits a payload into one InboundEvent per message and status.
// Statuses share the ID of the message they refer to, so their event ID is
// the message ID suffixed with the status. Unknown statuses are skipped.
func (p *Payload) Events(now time.Time) ([]*models.InboundEvent, error) {
	out := make([]*models.InboundEvent, 0)

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := contactNames(value.Contacts)

			for _, raw := range value.Messages {
				var msg message

				err := json.Unmarshal(raw, &msg)
				if err != nil {
					return nil, fmt.Errorf("failed to decode message: %w", err)
				}

				out = append(out, &models.InboundEvent{
					ProviderEventID: msg.ID,
					Kind:            models.EventKindMessage,
					PhoneNumberID:   value.Metadata.PhoneNumberID,
					ContactRef:      msg.From,
					ContactName:     names[msg.From],
					Text:            msg.text(),
					RawPayload:      raw,
					ReceivedAt:      parseTimestamp(msg.Timestamp, now),
				})
			}

			for _, raw := range value.Statuses {
				var st status

				err := json.Unmarshal(raw, &st)
				if err != nil {
					return nil, fmt.Errorf("failed to decode status: %w", err)
				}

				deliveryStatus, ok := parseStatus(st.Status)
				if !ok {
					continue
				}

				out = append(out, &models.InboundEvent{
					ProviderEventID: StatusEventID(st.ID, deliveryStatus),
					Kind:            models.EventKindStatusUpdate,
					PhoneNumberID:   value.Metadata.PhoneNumberID,
					ContactRef:      st.RecipientID,
					MessageRef:      st.ID,
					Status:          deliveryStatus,
					RawPayload:      raw,
					ReceivedAt:      parseTimestamp(st.Timestamp, now),
				})
			}
		}
	}

	return out, nil
}

// StatusEventID is the dedupe key of a status update.
func StatusEventID(messageID string, status models.DeliveryStatus) string {
	return messageID + ":" + string(status)
}

func (m *message) text() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	case m.Image != nil:
		return m.Image.Caption
	case m.Video != nil:
		return m.Video.Caption
	case m.Document != nil:
		return m.Document.Caption
	default:
		return ""
	}
}

func contactNames(contacts []Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, contact := range contacts {
		names[contact.WaID] = contact.Profile.Name
	}

	return names
}

func parseStatus(raw string) (models.DeliveryStatus, bool) {
	switch models.DeliveryStatus(raw) {
	case models.DeliveryStatusSent, models.DeliveryStatusDelivered, models.DeliveryStatusRead, models.DeliveryStatusFailed:
		return models.DeliveryStatus(raw), true
	default:
		return "", false
	}
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return fallback
	}

	return time.Unix(seconds, 0).UTC()
}
