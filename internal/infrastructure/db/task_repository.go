package db

import (
	"context"
	"errors"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type taskRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) ports.TaskRepository {
	return &taskRepository{db: db, log: log}
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.ErrAlreadyExists
		}
		r.log.Errorw("task_repo_create_failed", "id", task.ID, "error", err)
		return err
	}
	r.log.Infow("task_repo_create_ok", "id", task.ID, "username", task.Username)
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		r.log.Errorw("task_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) ListByUser(ctx context.Context, username string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at desc").
		Find(&tasks).Error
	if err != nil {
		r.log.Errorw("task_repo_list_failed", "username", username, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) ListByGroup(ctx context.Context, groupID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at asc, id asc").
		Find(&tasks).Error
	if err != nil {
		r.log.Errorw("task_repo_list_by_group_failed", "group_id", groupID, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error) {
	var tasks []domain.Task
	if len(statuses) == 0 {
		return tasks, nil
	}
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at asc").
		Find(&tasks).Error
	if err != nil {
		r.log.Errorw("task_repo_list_by_status_failed", "statuses", statuses, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) Update(ctx context.Context, id string, update ports.TaskUpdate) error {
	fields := taskUpdateFields(update)
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Task{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		r.log.Errorw("task_repo_update_failed", "id", id, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *taskRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Task{}, "id = ?", id)
	if res.Error != nil {
		r.log.Errorw("task_repo_delete_failed", "id", id, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	r.log.Infow("task_repo_delete_ok", "id", id)
	return nil
}

func taskUpdateFields(u ports.TaskUpdate) map[string]interface{} {
	fields := make(map[string]interface{})
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.LastOutput != nil {
		fields["last_output"] = *u.LastOutput
	}
	if u.OutputFile != nil {
		fields["output_file"] = *u.OutputFile
	}
	if u.FileSize != nil {
		fields["file_size"] = *u.FileSize
	}
	if u.TempDir != nil {
		fields["temp_dir"] = *u.TempDir
	}
	return fields
}
