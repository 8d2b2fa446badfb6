package models

import (
	"time"

	"gorm.io/datatypes"
)

type PublishStatus string

const (
	PublishStatusPending   PublishStatus = "pending"
	PublishStatusPublished PublishStatus = "published"
	PublishStatusFailed    PublishStatus = "failed"
)

func (s PublishStatus) Valid() bool {
	switch s {
	case PublishStatusPending, PublishStatusPublished, PublishStatusFailed:
		return true
	}
	return false
}

// GeneratedContent is one rendered combination of a project's dataset.
// PublishedAt is set if and only if PublishStatus is published.
type GeneratedContent struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	ProjectID       uint                        `gorm:"not null;uniqueIndex:idx_contents_project_slug;index:idx_contents_project_status" json:"project_id"`
	Content         string                      `gorm:"type:text;not null" json:"content"`
	Title           string                      `gorm:"size:1024;not null" json:"title"`
	MetaDescription *string                     `gorm:"type:text" json:"meta_description,omitempty"`
	Tags            datatypes.JSONSlice[string] `json:"tags,omitempty"`
	ThumbnailURL    *string                     `gorm:"size:1024" json:"thumbnail_url,omitempty"`
	Slug            string                      `gorm:"size:255;not null;uniqueIndex:idx_contents_project_slug" json:"slug"`
	PublishStatus   PublishStatus               `gorm:"size:20;not null;default:'pending';index:idx_contents_project_status" json:"publish_status"`
	PublishedAt     *time.Time                  `json:"published_at"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GeneratedContent) TableName() string {
	return "generated_contents"
}
