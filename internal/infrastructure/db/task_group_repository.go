package db

import (
	"context"
	"errors"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type taskGroupRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskGroupRepository(db *gorm.DB, log *logger.Logger) ports.TaskGroupRepository {
	return &taskGroupRepository{db: db, log: log}
}

func (r *taskGroupRepository) Create(ctx context.Context, group *domain.TaskGroup) error {
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.ErrAlreadyExists
		}
		r.log.Errorw("group_repo_create_failed", "id", group.ID, "error", err)
		return err
	}
	r.log.Infow("group_repo_create_ok", "id", group.ID, "task_count", group.TaskCount)
	return nil
}

func (r *taskGroupRepository) GetByID(ctx context.Context, id string) (*domain.TaskGroup, error) {
	var group domain.TaskGroup
	if err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		r.log.Errorw("group_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &group, nil
}

func (r *taskGroupRepository) ListByUser(ctx context.Context, username string) ([]domain.TaskGroup, error) {
	var groups []domain.TaskGroup
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at desc").
		Find(&groups).Error
	if err != nil {
		r.log.Errorw("group_repo_list_failed", "username", username, "error", err)
		return nil, err
	}
	return groups, nil
}

func (r *taskGroupRepository) UpdateStatus(ctx context.Context, id string, status domain.GroupStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.TaskGroup{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		r.log.Errorw("group_repo_update_failed", "id", id, "status", status, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	r.log.Infow("group_repo_update_ok", "id", id, "status", status)
	return nil
}

func (r *taskGroupRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.TaskGroup{}, "id = ?", id)
	if res.Error != nil {
		r.log.Errorw("group_repo_delete_failed", "id", id, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	r.log.Infow("group_repo_delete_ok", "id", id)
	return nil
}
