package dto

import (
	"strings"
	"time"

	"github.com/reclive/backend/internal/domain"
)

type StartGroupRequest struct {
	Name    string       `json:"name"`
	URLs    []string     `json:"urls" validate:"required"`
	Options domain.JSONB `json:"options,omitempty"`
}

func (r *StartGroupRequest) Validate() []string {
	var errors []string
	nonBlank := 0
	for _, u := range r.URLs {
		if strings.TrimSpace(u) == "" {
			continue
		}
		nonBlank++
		if !isHTTPURL(u) {
			errors = append(errors, "invalid url: "+u)
		}
	}
	if nonBlank == 0 {
		errors = append(errors, "urls must contain at least one url")
	}
	return errors
}

type GroupResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Username  string             `json:"username"`
	Status    domain.GroupStatus `json:"status"`
	TaskCount int                `json:"task_count"`
	CreatedAt time.Time          `json:"created_at"`
}

type GroupDetailResponse struct {
	GroupResponse
	Tasks []TaskResponse `json:"tasks"`
}

func GroupToResponse(group *domain.TaskGroup) GroupResponse {
	return GroupResponse{
		ID:        group.ID,
		Name:      group.Name,
		Username:  group.Username,
		Status:    group.Status,
		TaskCount: group.TaskCount,
		CreatedAt: group.CreatedAt,
	}
}

func GroupsToResponse(groups []domain.TaskGroup) []GroupResponse {
	responses := make([]GroupResponse, len(groups))
	for i := range groups {
		responses[i] = GroupToResponse(&groups[i])
	}
	return responses
}
