package http

import (
	"errors"
	"strconv"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/orchestrator"
	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// WriteError writes an ErrorResponse with the given status.
func WriteError(c *fiber.Ctx, status int, title, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   title,
		Message: message,
	})
}

// RenderError maps err onto a status code. Only invalid queries echo their
// message; everything else gets a generic one.
func RenderError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error

	switch {
	case err == nil:
		return nil
	case errors.As(err, &fe):
		return WriteError(c, fe.Code, "request_failed", fe.Message)
	case errors.Is(err, backend.ErrInvalidQuery):
		return WriteError(c, fiber.StatusBadRequest, "invalid_query", err.Error())
	case backend.IsTimeout(err):
		return WriteError(c, fiber.StatusGatewayTimeout, "backend_timeout", "backend timeout")
	case errors.Is(err, backend.ErrBackendUnavailable), errors.Is(err, orchestrator.ErrClosed):
		return WriteError(c, fiber.StatusServiceUnavailable, "backend_unavailable", "service unavailable")
	default:
		return WriteError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
	}
}
