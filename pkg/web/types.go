// Package web provides HTTP request and response types for the pipeline API.
package web

import (
	"encoding/json"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

const (
	defaultDrainSize = 50
	defaultListLimit = 100
)

// DrainRequest bounds one drain call.
type DrainRequest struct {
	Max int `validate:"gte=1,lte=500"`
}

// ListRequest bounds a listing.
type ListRequest struct {
	Limit int `validate:"gte=1,lte=1000"`
}

// DryRunRequest describes the inbound message a flow dry-run simulates.
type DryRunRequest struct {
	Text      string            `json:"text"`
	Phone     string            `json:"phone"     validate:"required"`
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables"`
	Tags      []string          `json:"tags"      validate:"dive,required"`
}

// ChatbotReplyRequest carries the user input a chatbot preview answers.
type ChatbotReplyRequest struct {
	Input string `json:"input" validate:"required"`
}

// WebhookResponse acknowledges a provider delivery.
type WebhookResponse struct {
	Received int `json:"received"`
	Enqueued int `json:"enqueued"`
}

// JobResponse is the operator view of a queued job.
type JobResponse struct {
	ID            string           `json:"id"`
	InternalRef   string           `json:"internal_ref"`
	Status        models.JobStatus `json:"status"`
	Attempts      int              `json:"attempts"`
	LastError     string           `json:"last_error,omitempty"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
}

// DryRunResponse reports what a flow would do without dispatching it.
type DryRunResponse struct {
	Status      models.RunStatus  `json:"status"`
	VisitedHops int               `json:"visited_hops"`
	Variables   map[string]string `json:"variables"`
	Effects     json.RawMessage   `json:"effects"`
	Error       string            `json:"error,omitempty"`
}

// ChatbotReplyResponse is a chatbot preview. Reply is empty when the bot stays silent.
type ChatbotReplyResponse struct {
	Reply   string `json:"reply,omitempty"`
	Replied bool   `json:"replied"`
}

// TransformJobResponse maps a QueuedJob to its API representation.
func TransformJobResponse(job *models.QueuedJob) JobResponse {
	response := JobResponse{
		ID:            job.ID,
		InternalRef:   job.InternalRef,
		Status:        job.Status,
		Attempts:      job.Attempts,
		LastError:     job.LastError,
		NextAttemptAt: job.NextAttemptAt,
		UpdatedAt:     job.UpdatedAt,
	}

	if json.Valid(job.Payload) {
		response.Payload = job.Payload
	}

	return response
}
