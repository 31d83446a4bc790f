package models

import "time"

// Account maps a WhatsApp business phone number to the tenant that owns it.
type Account struct {
	ID            string    `json:"id"              validate:"required"`
	PhoneNumberID string    `json:"phone_number_id" validate:"required"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
}

// Contact is a WhatsApp user known to a tenant.
type Contact struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Phone     string            `json:"phone"`
	Name      string            `json:"name,omitempty"`
	Variables map[string]string `json:"variables"`
	Tags      []string          `json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}

	return false
}
