package db

import (
	"github.com/reclive/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Task{},
		&domain.TaskGroup{},
		&domain.TaskHistory{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// History is always read per task in insertion order
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_task_history_task_id_id
		ON task_history (task_id, id)
	`).Error; err != nil {
		return err
	}

	// Group pages list members by group and creation time
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_group_created
		ON tasks (group_id, created_at)
	`).Error; err != nil {
		return err
	}

	return nil
}
