package flow

import (
	"fmt"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
)

// Trigger payload keys.
const (
	PayloadText          = "text"
	PayloadContact       = "contact"
	PayloadEventID       = "provider_event_id"
	PayloadPhoneNumberID = "phone_number_id"
)

// Keyword match modes.
const (
	KeywordMatchContains   = "contains"
	KeywordMatchExact      = "exact"
	KeywordMatchStartsWith = "starts_with"
)

// TriggerPayload builds the payload a run receives from an inbound message.
func TriggerPayload(event *models.InboundEvent) map[string]any {
	return map[string]any{
		PayloadText:          event.Text,
		PayloadContact:       event.ContactRef,
		PayloadEventID:       event.ProviderEventID,
		PayloadPhoneNumberID: event.PhoneNumberID,
	}
}

// MatchTrigger reports whether the trigger of a graph fires for an inbound
// message from contact. Unknown trigger types are configuration errors.
func MatchTrigger(graph *Graph, event *models.InboundEvent, contact *models.Contact) (bool, error) {
	node := graph.Trigger()

	trigger, ok := node.Body.(models.TriggerNode)
	if !ok {
		return false, configError(graph.ID(), node.ID, ErrNoTrigger)
	}

	switch trigger.TriggerType {
	case models.TriggerTypeMessageReceived:
		return true, nil
	case models.TriggerTypeKeyword:
		return matchKeyword(graph.ID(), node.ID, trigger.Config, event.Text)
	case models.TriggerTypeContact:
		return matchContact(graph.ID(), node.ID, trigger.Config, contact)
	default:
		return false, configError(graph.ID(), node.ID, fmt.Errorf("%w: %q", ErrUnknownTriggerType, trigger.TriggerType))
	}
}

func matchKeyword(flowID, nodeID string, config map[string]any, text string) (bool, error) {
	keywords := configStrings(config, "keywords", "keyword")
	if len(keywords) == 0 {
		return false, configError(flowID, nodeID, fmt.Errorf("%w: keywords", ErrMissingConfigField))
	}

	mode, _ := configString(config, "match")
	if mode == "" {
		mode = KeywordMatchContains
	}

	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, keyword := range keywords {
		keyword = strings.ToLower(keyword)

		switch mode {
		case KeywordMatchContains:
			if strings.Contains(normalized, keyword) {
				return true, nil
			}
		case KeywordMatchExact:
			if normalized == keyword {
				return true, nil
			}
		case KeywordMatchStartsWith:
			if strings.HasPrefix(normalized, keyword) {
				return true, nil
			}
		default:
			return false, configError(flowID, nodeID, fmt.Errorf("%w: match %q", ErrInvalidConfigField, mode))
		}
	}

	return false, nil
}

// matchContact fires for listed phone numbers or contacts carrying a listed tag.
func matchContact(flowID, nodeID string, config map[string]any, contact *models.Contact) (bool, error) {
	phones := configStrings(config, "contacts", "phone")
	tags := configStrings(config, "tags", "tag")

	if len(phones) == 0 && len(tags) == 0 {
		return false, configError(flowID, nodeID, fmt.Errorf("%w: contacts or tags", ErrMissingConfigField))
	}

	if contact == nil {
		return false, nil
	}

	for _, phone := range phones {
		if normalizePhone(phone) == normalizePhone(contact.Phone) {
			return true, nil
		}
	}

	for _, tag := range tags {
		if contact.HasTag(tag) {
			return true, nil
		}
	}

	return false, nil
}

func normalizePhone(phone string) string {
	return strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(phone)
}
