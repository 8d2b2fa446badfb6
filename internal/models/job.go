package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// ActiveJobStatuses are the states that block a new job for the same project
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusPaused}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusPaused, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusPaused, JobStatusCancelled, JobStatusFailed},
	JobStatusPaused:     {JobStatusPending, JobStatusCancelled},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf lists every status from which to is reachable in one step
func SourcesOf(to JobStatus) []JobStatus {
	var sources []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusPaused} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusPaused
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// PublishJob drips a project's pending content out at DelaySeconds per item.
// All of its state lives in this row so any process can resume it.
type PublishJob struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	ProjectID      uint       `gorm:"not null;index" json:"project_id"`
	Status         JobStatus  `gorm:"size:20;not null;default:'pending';index" json:"status"`
	TotalContents  int        `gorm:"not null;default:0" json:"total_contents"`
	ProcessedCount int        `gorm:"not null;default:0" json:"processed_count"`
	DelaySeconds   int        `gorm:"not null;default:0" json:"delay_seconds"`
	ErrorMessage   *string    `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (PublishJob) TableName() string {
	return "publish_jobs"
}

func (j *PublishJob) BeforeCreate(*gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// Delay returns the configured inter-item wait
func (j *PublishJob) Delay() time.Duration {
	return time.Duration(j.DelaySeconds) * time.Second
}
