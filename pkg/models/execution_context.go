package models

import "time"

// ExecutionContext is the state of one flow run. It is owned by that run.
type ExecutionContext struct {
	FlowID         string            `json:"flow_id"`
	ContactID      string            `json:"contact_id"`
	Variables      map[string]string `json:"variables"`
	VisitedHops    int               `json:"visited_hops"`
	TriggerPayload map[string]any    `json:"trigger_payload,omitempty"`
	Effects        []Effect          `json:"-"`
}

// RunStatus is the outcome of a flow run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// FlowRun is the record of a finished run, kept so authors can see why a
// flow did nothing.
type FlowRun struct {
	ID          string    `json:"id"`
	FlowID      string    `json:"flow_id"`
	OwnerID     string    `json:"owner_id"`
	ContactID   string    `json:"contact_id"`
	EventID     string    `json:"event_id"`
	Status      RunStatus `json:"status"`
	VisitedHops int       `json:"visited_hops"`
	EffectCount int       `json:"effect_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduledEffects holds the effects that followed a DelayUntil until they
// are due.
type ScheduledEffects struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	ContactID string     `json:"contact_id"`
	FlowID    string     `json:"flow_id"`
	DueAt     time.Time  `json:"due_at"`
	Effects   []Effect   `json:"-"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
