package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EffectType discriminates the effects a completed run hands to the dispatcher.
type EffectType string

const (
	EffectTypeSendMessage EffectType = "send_message"
	EffectTypeSetVariable EffectType = "set_variable"
	EffectTypeAddTag      EffectType = "add_tag"
	EffectTypeDelayUntil  EffectType = "delay_until"
)

var ErrUnknownEffectType = errors.New("unknown effect type")

// Effect is implemented only by the effect types declared in this package.
type Effect interface {
	EffectType() EffectType
	isEffect()
}

// SendMessage sends Text to the contact of the run.
type SendMessage struct {
	Text string `json:"text"`
}

// SetVariable stores a value on the contact.
type SetVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AddTag labels the contact.
type AddTag struct {
	Tag string `json:"tag"`
}

// DelayUntil holds back every following effect until the given instant.
type DelayUntil struct {
	Until time.Time `json:"until"`
}

func (SendMessage) EffectType() EffectType { return EffectTypeSendMessage }
func (SetVariable) EffectType() EffectType { return EffectTypeSetVariable }
func (AddTag) EffectType() EffectType      { return EffectTypeAddTag }
func (DelayUntil) EffectType() EffectType  { return EffectTypeDelayUntil }

func (SendMessage) isEffect() {}
func (SetVariable) isEffect() {}
func (AddTag) isEffect()      {}
func (DelayUntil) isEffect()  {}

type effectJSON struct {
	Type EffectType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalEffects encodes an ordered effect list with type discriminators.
func MarshalEffects(effects []Effect) ([]byte, error) {
	wire := make([]effectJSON, 0, len(effects))

	for _, effect := range effects {
		data, err := json.Marshal(effect)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s effect: %w", effect.EffectType(), err)
		}

		wire = append(wire, effectJSON{Type: effect.EffectType(), Data: data})
	}

	return json.Marshal(wire)
}

// UnmarshalEffects decodes a list produced by MarshalEffects.
func UnmarshalEffects(raw []byte) ([]Effect, error) {
	var wire []effectJSON

	err := json.Unmarshal(raw, &wire)
	if err != nil {
		return nil, err
	}

	effects := make([]Effect, 0, len(wire))

	for _, item := range wire {
		var effect Effect

		switch item.Type {
		case EffectTypeSendMessage:
			var e SendMessage
			err = json.Unmarshal(item.Data, &e)
			effect = e
		case EffectTypeSetVariable:
			var e SetVariable
			err = json.Unmarshal(item.Data, &e)
			effect = e
		case EffectTypeAddTag:
			var e AddTag
			err = json.Unmarshal(item.Data, &e)
			effect = e
		case EffectTypeDelayUntil:
			var e DelayUntil
			err = json.Unmarshal(item.Data, &e)
			effect = e
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownEffectType, item.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s effect: %w", item.Type, err)
		}

		effects = append(effects, effect)
	}

	return effects, nil
}
