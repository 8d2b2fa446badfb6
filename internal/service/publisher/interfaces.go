package publisher

import (
	"context"
	"time"

	"github.com/azkastekom/massweb/internal/models"
)

// PublishContent is the platform-neutral document handed to publishers
type PublishContent struct {
	ID              uint              `json:"id"`
	ProjectID       uint              `json:"project_id"`
	Slug            string            `json:"slug"`
	Title           string            `json:"title"`
	Content         string            `json:"content"`
	MetaDescription string            `json:"meta_description,omitempty"`
	Tags            []string          `json:"tags"`
	ThumbnailURL    string            `json:"thumbnail_url,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// PublishResult represents the result of a publish operation
type PublishResult struct {
	Success     bool              `json:"success"`
	PublishID   string            `json:"publish_id,omitempty"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
}

// Publisher pushes one content item to a downstream platform. An error means
// the item was not delivered.
type Publisher interface {
	GetPlatformName() string
	Publish(ctx context.Context, content PublishContent) (*PublishResult, error)
}

// FromGeneratedContent converts a stored item to PublishContent
func FromGeneratedContent(c *models.GeneratedContent) *PublishContent {
	content := &PublishContent{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		Slug:      c.Slug,
		Title:     c.Title,
		Content:   c.Content,
		Tags:      []string(c.Tags),
		CreatedAt: c.CreatedAt,
	}
	if content.Tags == nil {
		content.Tags = []string{}
	}
	if c.MetaDescription != nil {
		content.MetaDescription = *c.MetaDescription
	}
	if c.ThumbnailURL != nil {
		content.ThumbnailURL = *c.ThumbnailURL
	}
	return content
}
