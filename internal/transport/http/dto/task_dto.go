package dto

import (
	"net/url"
	"strings"
	"time"

	"github.com/reclive/backend/internal/domain"
)

type StartTaskRequest struct {
	URL     string       `json:"url" validate:"required"`
	Options domain.JSONB `json:"options,omitempty"`
}

func (r *StartTaskRequest) Validate() []string {
	var errors []string
	if strings.TrimSpace(r.URL) == "" {
		errors = append(errors, "url is required")
	} else if !isHTTPURL(r.URL) {
		errors = append(errors, "url must be an absolute http(s) URL")
	}
	return errors
}

type SendInputRequest struct {
	Data string `json:"data"`
}

type StartTaskResponse struct {
	ID string `json:"id"`
}

type TaskResponse struct {
	ID         string            `json:"id"`
	Username   string            `json:"username"`
	URL        string            `json:"url"`
	Status     domain.TaskStatus `json:"status"`
	LastOutput string            `json:"last_output"`
	OutputFile *string           `json:"output_file,omitempty"`
	FileSize   int64             `json:"file_size"`
	Options    domain.JSONB      `json:"options,omitempty"`
	GroupID    *string           `json:"group_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func TaskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:         task.ID,
		Username:   task.Username,
		URL:        task.URL,
		Status:     task.Status,
		LastOutput: task.LastOutput,
		OutputFile: task.OutputFile,
		FileSize:   task.FileSize,
		Options:    task.Options,
		GroupID:    task.GroupID,
		CreatedAt:  task.CreatedAt,
		UpdatedAt:  task.UpdatedAt,
	}
}

func TasksToResponse(tasks []domain.Task) []TaskResponse {
	responses := make([]TaskResponse, len(tasks))
	for i := range tasks {
		responses[i] = TaskToResponse(&tasks[i])
	}
	return responses
}

type HistoryLineResponse struct {
	Stream    domain.OutputStream `json:"stream"`
	Line      string              `json:"line"`
	CreatedAt time.Time           `json:"created_at"`
}

func HistoryToResponse(rows []domain.TaskHistory) []HistoryLineResponse {
	responses := make([]HistoryLineResponse, len(rows))
	for i, r := range rows {
		responses[i] = HistoryLineResponse{Stream: r.Stream, Line: r.Line, CreatedAt: r.CreatedAt}
	}
	return responses
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
