package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrInfiniteLoop indicates a run exceeded the hop limit.
	ErrInfiniteLoop = errors.New("flow exceeded the hop limit")

	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("invalid flow configuration")

	// ErrRunPanicked indicates a node evaluation panicked.
	ErrRunPanicked = errors.New("flow run panicked")

	ErrNoTrigger          = errors.New("flow has no trigger node")
	ErrMultipleTriggers   = errors.New("flow has more than one trigger node")
	ErrTriggerHasIncoming = errors.New("trigger node has incoming edges")
	ErrUnreachableNode    = errors.New("node is not reachable from the trigger")
	ErrDanglingEdge       = errors.New("edge references an unknown node")
	ErrInvalidBranch      = errors.New("invalid edge branch")
	ErrAmbiguousEdge      = errors.New("node has more than one outgoing edge")
	ErrNodeKindNotAllowed = errors.New("node kind not allowed in this graph")
	ErrUnknownActionType  = errors.New("unknown action type")
	ErrUnknownPredicate   = errors.New("unknown predicate")
	ErrUnknownTriggerType = errors.New("unknown trigger type")
	ErrMissingConfigField = errors.New("missing required config field")
	ErrInvalidConfigField = errors.New("invalid config field")
	ErrNodeWithoutBody    = errors.New("node has no body")
	ErrNodeIDMismatch     = errors.New("node id does not match its key")
)

// ConfigurationError reports a malformed graph or node configuration.
type ConfigurationError struct {
	FlowID string
	NodeID string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("flow %s node %s: %v", e.FlowID, e.NodeID, e.Err)
	}

	return fmt.Sprintf("flow %s: %v", e.FlowID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is matches ErrConfiguration as well as the wrapped cause.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration || errors.Is(e.Err, target)
}

func configError(flowID, nodeID string, err error) *ConfigurationError {
	return &ConfigurationError{FlowID: flowID, NodeID: nodeID, Err: err}
}

// IsConfigurationError checks if an error is a flow configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsInfiniteLoop checks if an error is a hop limit abort.
func IsInfiniteLoop(err error) bool {
	return errors.Is(err, ErrInfiniteLoop)
}
