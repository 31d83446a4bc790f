package models

import "time"

// Chatbot is a linear Trigger -> Message | AI graph answering free text.
type Chatbot struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id" validate:"required"`
	Name      string           `json:"name"     validate:"required,min=3"`
	Active    bool             `json:"active"`
	Nodes     map[string]*Node `json:"nodes"    validate:"required,min=1"`
	Edges     []Edge           `json:"edges"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
