package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case storage.IsNotFound(err):
		return fiber.StatusNotFound
	case storage.IsConflict(err):
		return fiber.StatusConflict
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, pipeline.ErrSearchDisabled):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Internal errors are logged and
// reported as "<action> failed" without details.
func (s *Server) fail(c *fiber.Ctx, err error, action string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error(action+" failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
		return c.Status(status).JSON(ErrorResponse{Error: action + " failed"})
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}
