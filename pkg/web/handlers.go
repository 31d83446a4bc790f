// Package web provides the HTTP handlers of the webhook pipeline.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/chatbot"
	"github.com/dukex/convoflow/pkg/dispatch"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/processor"
	"github.com/dukex/convoflow/pkg/queue"
	"github.com/dukex/convoflow/pkg/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// WebhookConfig holds the provider secrets of the webhook endpoint.
type WebhookConfig struct {
	AppSecret   string
	VerifyToken string
}

type APIHandlers struct {
	queue      *queue.Queue
	processor  *processor.Processor
	dispatcher *dispatch.Dispatcher
	engine     *flow.Engine
	chatbots   *chatbot.Runtime
	store      persistence.Persistence
	validator  *validator.Validate
	webhook    WebhookConfig
	logger     *slog.Logger
}

func NewAPIHandlers(
	logger *slog.Logger,
	store persistence.Persistence,
	q *queue.Queue,
	p *processor.Processor,
	dispatcher *dispatch.Dispatcher,
	engine *flow.Engine,
	chatbots *chatbot.Runtime,
	validator *validator.Validate,
	webhookConfig WebhookConfig,
) *APIHandlers {
	return &APIHandlers{
		queue:      q,
		processor:  p,
		dispatcher: dispatcher,
		engine:     engine,
		chatbots:   chatbots,
		store:      store,
		validator:  validator,
		webhook:    webhookConfig,
		logger:     logger.With("module", "api"),
	}
}

// VerifyWebhook answers the provider subscription handshake.
func (h *APIHandlers) VerifyWebhook(c fiber.Ctx) error {
	challenge, err := webhook.VerifyChallenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		h.webhook.VerifyToken,
	)
	if err != nil {
		return forbidden(c, err.Error())
	}

	return c.SendString(challenge)
}

// ReceiveWebhook enqueues every event of a delivery and answers immediately.
// Enqueue is idempotent, so a failed delivery can be retried by the provider.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	body := c.Body()

	err := webhook.VerifySignature(h.webhook.AppSecret, body, c.Get(webhook.SignatureHeader))
	if err != nil {
		return handleServiceError(c, err)
	}

	err = webhook.Validate(body)
	if err != nil {
		return handleServiceError(c, err)
	}

	payload, err := webhook.Decode(body)
	if err != nil {
		return handleServiceError(c, err)
	}

	inbound, err := payload.Events(time.Now().UTC())
	if err != nil {
		return badRequest(c, err.Error())
	}

	response := WebhookResponse{Received: len(inbound)}

	for _, event := range inbound {
		data, err := json.Marshal(event)
		if err != nil {
			return internalError(c, err)
		}

		created, err := h.queue.Enqueue(c.Context(), event.ProviderEventID, event.ContactRef, data)
		if err != nil {
			h.logger.ErrorContext(c.Context(), "Failed to enqueue webhook event", "event_id", event.ProviderEventID, "error", err)

			return internalError(c, err)
		}

		if created {
			response.Enqueued++
		}
	}

	return c.JSON(response)
}

// DrainJobs processes up to max queued jobs.
func (h *APIHandlers) DrainJobs(c fiber.Ctx) error {
	req := DrainRequest{Max: defaultDrainSize}

	if maxStr := c.Query("max"); maxStr != "" {
		maxJobs, err := strconv.Atoi(maxStr)
		if err != nil {
			return badRequest(c, "Invalid max: "+err.Error())
		}

		req.Max = maxJobs
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// Unsettled jobs are reclaimed later; the count covers the settled ones.
	processed, err := h.processor.ProcessBatch(c.Context(), req.Max)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Drain finished with errors", "processed", processed, "error", err)
	}

	return c.JSON(fiber.Map{"processed": processed})
}

func (h *APIHandlers) ListFailedJobs(c fiber.Ctx) error {
	req, err := h.parseListRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	jobs, err := h.queue.ListFailed(c.Context(), req.Limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	response := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		response = append(response, TransformJobResponse(job))
	}

	return c.JSON(fiber.Map{
		"jobs":  response,
		"count": len(response),
	})
}

func (h *APIHandlers) parseListRequest(c fiber.Ctx) (*ListRequest, error) {
	req := &ListRequest{Limit: defaultListLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return req, nil
}

// RequeueJob makes a failed job eligible again.
func (h *APIHandlers) RequeueJob(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job ID is required")
	}

	err := h.queue.Requeue(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// DrainEffects dispatches delayed effects that are due.
func (h *APIHandlers) DrainEffects(c fiber.Ctx) error {
	req, err := h.parseListRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	drained, err := h.dispatcher.DrainDue(c.Context(), req.Limit)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Effects drain finished with errors", "drained", drained, "error", err)
	}

	return c.JSON(fiber.Map{"drained": drained})
}

// DryRunFlow runs a stored flow against a simulated message without
// dispatching its effects.
func (h *APIHandlers) DryRunFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req DryRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	f, err := h.store.Flows().ByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	contact := &models.Contact{
		ID:        "dry-run",
		OwnerID:   f.OwnerID,
		Phone:     req.Phone,
		Name:      req.Name,
		Variables: req.Variables,
		Tags:      req.Tags,
	}

	event := &models.InboundEvent{
		ProviderEventID: "dry-run",
		Kind:            models.EventKindMessage,
		ContactRef:      req.Phone,
		ContactName:     req.Name,
		Text:            req.Text,
	}

	result := h.engine.RunFlow(f, contact, flow.TriggerPayload(event))

	effects, err := models.MarshalEffects(result.Effects)
	if err != nil {
		return internalError(c, err)
	}

	response := DryRunResponse{
		Status:  result.Status,
		Effects: effects,
	}

	if result.Context != nil {
		response.VisitedHops = result.Context.VisitedHops
		response.Variables = result.Context.Variables
	}

	if result.Err != nil {
		response.Error = result.Err.Error()
	}

	return c.JSON(response)
}

// PreviewChatbotReply answers input with a stored chatbot.
func (h *APIHandlers) PreviewChatbotReply(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	var req ChatbotReplyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	bot, err := h.store.Chatbots().ByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	reply, ok := h.chatbots.Reply(c.Context(), bot, req.Input)

	return c.JSON(ChatbotReplyResponse{Reply: reply, Replied: ok})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "convoflow API is healthy"
	httpStatus := http.StatusOK
	storage := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "convoflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
		storage = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": storage,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Register mounts the pipeline routes on app.
func (h *APIHandlers) Register(app *fiber.App) {
	wh := app.Group("/webhooks")
	wh.Get("/whatsapp", h.VerifyWebhook)
	wh.Post("/whatsapp", h.ReceiveWebhook)

	j := app.Group("/jobs")
	j.Post("/drain", h.DrainJobs)
	j.Get("/failed", h.ListFailedJobs)
	j.Post("/:id/requeue", h.RequeueJob)

	app.Post("/effects/drain", h.DrainEffects)
	app.Post("/flows/:id/dry-run", h.DryRunFlow)
	app.Post("/chatbots/:id/reply", h.PreviewChatbotReply)

	app.Get("/health", h.HealthCheck)
}
