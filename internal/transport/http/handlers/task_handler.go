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

type TaskHandler struct {
	service ports.RecordingService
	logger  *logger.Logger
}

func NewTaskHandler(service ports.RecordingService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{service: service, logger: logger}
}

func (h *TaskHandler) StartTask(c *fiber.Ctx) error {
	var req dto.StartTaskRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_start_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	username := httpmw.Username(c)
	h.logger.Infow("task_start_request", "username", username, "url", req.URL)
	id, err := h.service.Start(c.Context(), ports.StartTaskInput{
		Username: username,
		URL:      req.URL,
		Options:  req.Options,
	})
	// a failed spawn still leaves a task record in status failed
	if err != nil && !(errors.Is(err, services.ErrTaskSpawnFailed) && id != "") {
		h.logger.Warnw("task_start_failed", "username", username, "error", err)
		return writeServiceError(c, err)
	}

	task, getErr := h.service.GetTask(c.Context(), id)
	if getErr != nil {
		return c.Status(fiber.StatusCreated).JSON(dto.StartTaskResponse{ID: id})
	}
	h.logger.Infow("task_start_success", "task_id", id, "status", task.Status)
	return c.Status(fiber.StatusCreated).JSON(dto.TaskToResponse(task))
}

func (h *TaskHandler) GetTasks(c *fiber.Ctx) error {
	tasks, err := h.service.ListTasks(c.Context(), httpmw.Username(c))
	if err != nil {
		h.logger.Errorw("task_list_failed", "error", err)
		return writeServiceError(c, err)
	}
	return c.JSON(dto.TasksToResponse(tasks))
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	task, err := h.ownedTask(c)
	if err != nil {
		return err
	}
	return c.JSON(dto.TaskToResponse(task))
}

func (h *TaskHandler) GetHistory(c *fiber.Ctx) error {
	task, err := h.ownedTask(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "limit must not be negative"})
	}
	rows, err := h.service.History(c.Context(), task.ID, limit)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(dto.HistoryToResponse(rows))
}

func (h *TaskHandler) StopTask(c *fiber.Ctx) error {
	task, err := h.ownedTask(c)
	if err != nil {
		return err
	}
	h.logger.Infow("task_stop_request", "task_id", task.ID)
	if err := h.service.Stop(c.Context(), task.ID); err != nil {
		h.logger.Warnw("task_stop_failed", "task_id", task.ID, "error", err)
		return writeServiceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{Message: "task stopped"})
}

func (h *TaskHandler) SendInput(c *fiber.Ctx) error {
	task, err := h.ownedTask(c)
	if err != nil {
		return err
	}
	var req dto.SendInputRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	h.service.SendInput(task.ID, req.Data)
	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{Message: "input queued"})
}

func (h *TaskHandler) DeleteTask(c *fiber.Ctx) error {
	task, err := h.ownedTask(c)
	if err != nil {
		return err
	}
	h.logger.Infow("task_delete_request", "task_id", task.ID)
	if err := h.service.Delete(c.Context(), task.ID); err != nil {
		h.logger.Warnw("task_delete_failed", "task_id", task.ID, "error", err)
		return writeServiceError(c, err)
	}
	h.logger.Infow("task_delete_success", "task_id", task.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

// ownedTask loads :id and hides tasks owned by someone else.
func (h *TaskHandler) ownedTask(c *fiber.Ctx) (*domain.Task, error) {
	id := c.Params("id")
	task, err := h.service.GetTask(c.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTaskNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "task not found")
		}
		h.logger.Errorw("task_get_failed", "task_id", id, "error", err)
		return nil, err
	}
	if task.Username != httpmw.Username(c) {
		return nil, fiber.NewError(fiber.StatusNotFound, "task not found")
	}
	return task, nil
}
