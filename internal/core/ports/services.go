package ports

import (
	"context"

	"github.com/reclive/backend/internal/domain"
)

type RecordingService interface {
	Start(ctx context.Context, input StartTaskInput) (string, error)
	Stop(ctx context.Context, taskID string) error
	SendInput(taskID, line string)
	Delete(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, username string) ([]domain.Task, error)
	History(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error)
}

type StartTaskInput struct {
	// ID is optional; a time-based id is generated when empty.
	ID       string
	Username string
	URL      string
	Options  domain.JSONB
	GroupID  *string
}

type GroupService interface {
	StartGroup(ctx context.Context, input StartGroupInput) (*domain.TaskGroup, error)
	StopGroup(ctx context.Context, groupID string) error
	DeleteGroup(ctx context.Context, groupID string) error
	GetGroup(ctx context.Context, groupID string) (*domain.TaskGroup, []domain.Task, error)
	ListGroups(ctx context.Context, username string) ([]domain.TaskGroup, error)
}

type StartGroupInput struct {
	Name     string
	Username string
	URLs     []string
	Options  domain.JSONB
}
