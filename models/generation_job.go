package models

import (
	"time"
)

// Job status values. SUCCESS and FAILURE are terminal.
const (
	JobPending    = "PENDING"
	JobProcessing = "PROCESSING"
	JobSuccess    = "SUCCESS"
	JobFailure    = "FAILURE"
)

// GenerationJob tracks one asynchronous document generation request.
// Progress is monotonically non-decreasing until a terminal status.
type GenerationJob struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TemplateSlug string `json:"template_slug" gorm:"index"`
	RemoteTaskID string `json:"remote_task_id,omitempty" gorm:"index"`

	Status     string `json:"status" gorm:"index;default:'PENDING'"`
	Progress   int    `json:"progress"`
	ResultLink string `json:"result_link,omitempty"`
	Error      string `json:"error,omitempty"`

	ArchiveLink string `json:"archive_link,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobSuccess || j.Status == JobFailure
}

// TableName sets the explicit table name for GORM.
func (GenerationJob) TableName() string {
	return "generation_jobs"
}
