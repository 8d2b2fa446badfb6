package models

import (
	"time"

	"gorm.io/datatypes"
)

// ErrorLog records failures that happened away from a caller, e.g. inside a
// scheduler tick
type ErrorLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Level      string         `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN, INFO
	Source     string         `gorm:"size:100;not null;index" json:"source"` // generator, publisher, scheduler
	ProjectID  *uint          `gorm:"index" json:"project_id"`
	JobID      *string        `gorm:"size:36;index" json:"job_id"`
	Title      string         `gorm:"size:500;not null" json:"title"`
	Message    string         `gorm:"type:text;not null" json:"message"`
	StackTrace string         `gorm:"type:text" json:"stack_trace,omitempty"`
	Context    datatypes.JSON `json:"context,omitempty"`
	Resolved   bool           `gorm:"default:false;index" json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
