package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/core/services"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/reclive/backend/internal/transport/http/dto"
	httpmw "github.com/reclive/backend/internal/transport/http/middleware"
)

type GroupHandler struct {
	service ports.GroupService
	logger  *logger.Logger
}

func NewGroupHandler(service ports.GroupService, logger *logger.Logger) *GroupHandler {
	return &GroupHandler{service: service, logger: logger}
}

func (h *GroupHandler) StartGroup(c *fiber.Ctx) error {
	var req dto.StartGroupRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("group_start_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	username := httpmw.Username(c)
	h.logger.Infow("group_start_request", "username", username, "urls", len(req.URLs))
	group, err := h.service.StartGroup(c.Context(), ports.StartGroupInput{
		Name:     req.Name,
		Username: username,
		URLs:     req.URLs,
		Options:  req.Options,
	})
	if err != nil {
		h.logger.Warnw("group_start_failed", "username", username, "error", err)
		return writeServiceError(c, err)
	}

	h.logger.Infow("group_start_success", "group_id", group.ID, "status", group.Status)
	return c.Status(fiber.StatusCreated).JSON(dto.GroupToResponse(group))
}

func (h *GroupHandler) GetGroups(c *fiber.Ctx) error {
	groups, err := h.service.ListGroups(c.Context(), httpmw.Username(c))
	if err != nil {
		h.logger.Errorw("group_list_failed", "error", err)
		return writeServiceError(c, err)
	}
	return c.JSON(dto.GroupsToResponse(groups))
}

func (h *GroupHandler) GetGroup(c *fiber.Ctx) error {
	group, tasks, err := h.service.GetGroup(c.Context(), c.Params("id"))
	if err != nil {
		return h.groupError(c, err)
	}
	if group.Username != httpmw.Username(c) {
		return fiber.NewError(fiber.StatusNotFound, "group not found")
	}
	return c.JSON(dto.GroupDetailResponse{
		GroupResponse: dto.GroupToResponse(group),
		Tasks:         dto.TasksToResponse(tasks),
	})
}

func (h *GroupHandler) StopGroup(c *fiber.Ctx) error {
	group, err := h.ownedGroup(c)
	if err != nil {
		return err
	}
	h.logger.Infow("group_stop_request", "group_id", group.ID)
	if err := h.service.StopGroup(c.Context(), group.ID); err != nil {
		h.logger.Warnw("group_stop_failed", "group_id", group.ID, "error", err)
		return c.Status(fiber.StatusMultiStatus).JSON(dto.ErrorResponse{
			Error:   "some tasks failed to stop",
			Details: []string{err.Error()},
		})
	}
	return c.JSON(dto.SuccessResponse{Message: "group stopped"})
}

func (h *GroupHandler) DeleteGroup(c *fiber.Ctx) error {
	group, err := h.ownedGroup(c)
	if err != nil {
		return err
	}
	h.logger.Infow("group_delete_request", "group_id", group.ID)
	if err := h.service.DeleteGroup(c.Context(), group.ID); err != nil {
		h.logger.Warnw("group_delete_failed", "group_id", group.ID, "error", err)
		return writeServiceError(c, err)
	}
	h.logger.Infow("group_delete_success", "group_id", group.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *GroupHandler) ownedGroup(c *fiber.Ctx) (*domain.TaskGroup, error) {
	group, _, err := h.service.GetGroup(c.Context(), c.Params("id"))
	if err != nil {
		return nil, h.groupError(c, err)
	}
	if group.Username != httpmw.Username(c) {
		return nil, fiber.NewError(fiber.StatusNotFound, "group not found")
	}
	return group, nil
}

func (h *GroupHandler) groupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrGroupNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "group not found")
	}
	h.logger.Errorw("group_get_failed", "group_id", c.Params("id"), "error", err)
	return err
}
