package domain

import "time"

type Task struct {
	ID        string    `gorm:"primaryKey;size:100" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username   string     `gorm:"size:255;index" json:"username"`
	URL        string     `gorm:"type:text;not null" json:"url"`
	Status     TaskStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	LastOutput string     `gorm:"type:text" json:"last_output"`
	OutputFile *string    `gorm:"type:text" json:"output_file,omitempty"`
	FileSize   int64      `gorm:"default:0" json:"file_size"`
	Options    JSONB      `gorm:"type:text" json:"options"`
	GroupID    *string    `gorm:"size:100;index" json:"group_id,omitempty"`
	TempDir    *string    `gorm:"type:text" json:"temp_dir,omitempty"`
}

type TaskGroup struct {
	ID        string    `gorm:"primaryKey;size:100" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name      string      `gorm:"size:255" json:"name"`
	Username  string      `gorm:"size:255;index" json:"username"`
	Status    GroupStatus `gorm:"size:20;not null;default:'running'" json:"status"`
	TaskCount int         `gorm:"default:0" json:"task_count"`
}

func StringPtr(s string) *string {
	return &s
}
