package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ==================== ENUMS ====================

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusStopped   TaskStatus = "stopped"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusPaused    TaskStatus = "paused"
)

type GroupStatus string

const (
	GroupStatusRunning   GroupStatus = "running"
	GroupStatusStopped   GroupStatus = "stopped"
	GroupStatusCompleted GroupStatus = "completed"
	GroupStatusFailed    GroupStatus = "failed"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
	StreamSystem OutputStream = "system"
)

// ==================== JSONB TYPES ====================

// JSONB holds the opaque recorder options forwarded to the process.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(bytes, j)
}

// ==================== HISTORY ====================

type TaskHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TaskID string       `gorm:"size:100;not null;index" json:"task_id"`
	Stream OutputStream `gorm:"size:10" json:"stream"`
	Line   string       `gorm:"type:text" json:"line"`
}

func (TaskHistory) TableName() string {
	return "task_history"
}
