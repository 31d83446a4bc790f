package flow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
)

// Predicate operators available to condition nodes.
const (
	PredicateContains    = "contains"
	PredicateNotContains = "not_contains"
	PredicateEquals      = "equals"
	PredicateStartsWith  = "starts_with"
	PredicateEndsWith    = "ends_with"
	PredicateExists      = "exists"
	PredicateMatches     = "matches"
)

// FieldMessage selects the inbound message text. Any other field name
// selects a context variable.
const FieldMessage = "message"

type predicate struct {
	operator      string
	field         string
	value         string
	caseSensitive bool
	pattern       *regexp.Regexp
}

func parsePredicate(node models.ConditionNode) (*predicate, error) {
	p := &predicate{
		operator:      node.Predicate,
		field:         FieldMessage,
		caseSensitive: configBool(node.Config, "case_sensitive"),
	}

	if field, ok := configString(node.Config, "field"); ok && field != "" {
		p.field = field
	}

	switch p.operator {
	case PredicateExists:
		return p, nil
	case PredicateContains, PredicateNotContains, PredicateEquals, PredicateStartsWith, PredicateEndsWith:
		value, err := requiredString(node.Config, "value")
		if err != nil {
			return nil, err
		}

		p.value = value
	case PredicateMatches:
		value, err := requiredString(node.Config, "value")
		if err != nil {
			return nil, err
		}

		if !p.caseSensitive {
			value = "(?i)" + value
		}

		pattern, err := regexp.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("%w: value: %w", ErrInvalidConfigField, err)
		}

		p.pattern = pattern
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPredicate, p.operator)
	}

	if !p.caseSensitive {
		p.value = strings.ToLower(p.value)
	}

	return p, nil
}

func (p *predicate) evaluate(execCtx *models.ExecutionContext) bool {
	subject, present := p.subject(execCtx)

	if p.operator == PredicateExists {
		return present && strings.TrimSpace(subject) != ""
	}

	if p.operator == PredicateMatches {
		return p.pattern.MatchString(subject)
	}

	if !p.caseSensitive {
		subject = strings.ToLower(subject)
	}

	switch p.operator {
	case PredicateContains:
		return strings.Contains(subject, p.value)
	case PredicateNotContains:
		return !strings.Contains(subject, p.value)
	case PredicateEquals:
		return strings.TrimSpace(subject) == p.value
	case PredicateStartsWith:
		return strings.HasPrefix(strings.TrimSpace(subject), p.value)
	case PredicateEndsWith:
		return strings.HasSuffix(strings.TrimSpace(subject), p.value)
	default:
		return false
	}
}

func (p *predicate) subject(execCtx *models.ExecutionContext) (string, bool) {
	if p.field == FieldMessage {
		text, ok := execCtx.TriggerPayload[PayloadText].(string)

		return text, ok
	}

	value, ok := execCtx.Variables[p.field]

	return value, ok
}
