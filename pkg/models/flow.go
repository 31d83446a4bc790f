// Package models defines the core domain models for conversation automation flows
package models

import "time"

// FlowStatus represents whether a flow is eligible for trigger matching.
type FlowStatus string

const (
	FlowStatusActive   FlowStatus = "active"   // Matched against inbound events
	FlowStatusInactive FlowStatus = "inactive" // Stored, never executed
)

// Branch labels the outgoing edge of a condition node.
type Branch string

const (
	BranchNone  Branch = ""
	BranchTrue  Branch = "true"
	BranchFalse Branch = "false"
)

// Edge connects two nodes of a flow graph. Edges are ordered.
type Edge struct {
	Source string `json:"source"           validate:"required"`
	Target string `json:"target"           validate:"required"`
	Branch Branch `json:"branch,omitempty" validate:"omitempty,oneof=true false"`
}

// FlowGraph is a user-authored automation owned by a single tenant.
type FlowGraph struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id" validate:"required"`
	Name      string           `json:"name"     validate:"required,min=3"`
	Status    FlowStatus       `json:"status"   validate:"required,oneof=active inactive"`
	Nodes     map[string]*Node `json:"nodes"    validate:"required,min=1,dive"`
	Edges     []Edge           `json:"edges"    validate:"dive"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the flow takes part in trigger matching.
func (f *FlowGraph) IsActive() bool {
	return f.Status == FlowStatusActive
}

// Trigger returns the first trigger node found in the graph, or nil.
func (f *FlowGraph) Trigger() *Node {
	for _, node := range f.Nodes {
		if node.Kind() == NodeKindTrigger {
			return node
		}
	}

	return nil
}
