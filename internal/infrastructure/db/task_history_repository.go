package db

import (
	"context"
	"sync"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type taskHistoryRepository struct {
	db    *gorm.DB
	log   *logger.Logger
	limit int

	mu      sync.Mutex
	appends map[string]int
}

// NewTaskHistoryRepository keeps at most limit rows per task when limit > 0.
func NewTaskHistoryRepository(db *gorm.DB, log *logger.Logger, limit int) ports.TaskHistoryRepository {
	return &taskHistoryRepository{db: db, log: log, limit: limit, appends: make(map[string]int)}
}

func (r *taskHistoryRepository) Append(ctx context.Context, entry *domain.TaskHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Errorw("history_repo_append_failed", "task_id", entry.TaskID, "error", err)
		return err
	}
	if r.trimDue(entry.TaskID) {
		r.trim(ctx, entry.TaskID)
	}
	return nil
}

// trimDue counts appends per task and reports true every limit/10 of them.
func (r *taskHistoryRepository) trimDue(taskID string) bool {
	if r.limit <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends[taskID]++
	return r.appends[taskID]%max(r.limit/10, 1) == 0
}

func (r *taskHistoryRepository) trim(ctx context.Context, taskID string) {
	keep := r.db.Model(&domain.TaskHistory{}).
		Select("id").
		Where("task_id = ?", taskID).
		Order("id desc").
		Limit(r.limit)
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND id NOT IN (?)", taskID, keep).
		Delete(&domain.TaskHistory{}).Error
	if err != nil {
		r.log.Warnw("history_repo_trim_failed", "task_id", taskID, "error", err)
	}
}

func (r *taskHistoryRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error) {
	var rows []domain.TaskHistory
	q := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		r.log.Errorw("history_repo_list_failed", "task_id", taskID, "error", err)
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *taskHistoryRepository) DeleteByTask(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&domain.TaskHistory{}).Error; err != nil {
		r.log.Errorw("history_repo_delete_failed", "task_id", taskID, "error", err)
		return err
	}
	r.mu.Lock()
	delete(r.appends, taskID)
	r.mu.Unlock()
	r.log.Infow("history_repo_delete_ok", "task_id", taskID)
	return nil
}
