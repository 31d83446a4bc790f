package web

import (
	"errors"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/webhook"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// problem writes an RFC 7807 body with the given status and type.
func problem(c fiber.Ctx, status int, problemType, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, "invalid_signature", detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusForbidden, "verification_failed", detail)
}

func internalError(c fiber.Ctx, err error) error {
	body := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

// handleServiceError maps pipeline errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature), errors.Is(err, webhook.ErrMissingSignature):
		return unauthorized(c, err.Error())
	case errors.Is(err, webhook.ErrInvalidPayload), errors.Is(err, webhook.ErrUnsupportedObject):
		return badRequest(c, err.Error())
	case persistence.IsJobNotFound(err):
		return notFound(c, "job not found")
	case errors.Is(err, persistence.ErrJobNotFailed):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, persistence.ErrFlowNotFound):
		return problem(c, fiber.StatusNotFound, "flow_not_found", "flow not found")
	case errors.Is(err, persistence.ErrChatbotNotFound):
		return problem(c, fiber.StatusNotFound, "chatbot_not_found", "chatbot not found")
	default:
		return internalError(c, err)
	}
}
