package ports

import (
	"context"
	"errors"

	"github.com/reclive/backend/internal/domain"
)

var (
	// ErrNotFound is returned by repositories when no row matches the key.
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// TaskUpdate carries the task columns to change. Nil fields are left untouched.
type TaskUpdate struct {
	Status     *domain.TaskStatus
	LastOutput *string
	OutputFile *string
	FileSize   *int64
	TempDir    *string
}

func (u TaskUpdate) IsEmpty() bool {
	return u.Status == nil && u.LastOutput == nil && u.OutputFile == nil && u.FileSize == nil && u.TempDir == nil
}

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	ListByUser(ctx context.Context, username string) ([]domain.Task, error)
	ListByGroup(ctx context.Context, groupID string) ([]domain.Task, error)
	ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error)
	Update(ctx context.Context, id string, update TaskUpdate) error
	Delete(ctx context.Context, id string) error
}

type TaskGroupRepository interface {
	Create(ctx context.Context, group *domain.TaskGroup) error
	GetByID(ctx context.Context, id string) (*domain.TaskGroup, error)
	ListByUser(ctx context.Context, username string) ([]domain.TaskGroup, error)
	UpdateStatus(ctx context.Context, id string, status domain.GroupStatus) error
	Delete(ctx context.Context, id string) error
}

type TaskHistoryRepository interface {
	Append(ctx context.Context, entry *domain.TaskHistory) error
	// ListByTask returns the newest limit rows in chronological order. limit <= 0 means all.
	ListByTask(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error)
	DeleteByTask(ctx context.Context, taskID string) error
}
