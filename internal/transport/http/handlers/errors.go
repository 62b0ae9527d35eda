package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/reclive/backend/internal/core/services"
	"github.com/reclive/backend/internal/transport/http/dto"
)

// writeServiceError maps service sentinels to HTTP statuses.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrTaskNotFound), errors.Is(err, services.ErrGroupNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrTaskInvalidInput), errors.Is(err, services.ErrGroupInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrTaskExists):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrTaskSpawnFailed):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
}
