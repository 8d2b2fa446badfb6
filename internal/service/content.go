package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/pkg/util"
)

// ContentFilter narrows a content listing
type ContentFilter struct {
	ProjectID uint
	Status    models.PublishStatus
	Search    string
}

// ContentUpdate carries the fields an operator may edit by hand. Nil fields
// are left untouched.
type ContentUpdate struct {
	Title           *string               `json:"title"`
	Content         *string               `json:"content"`
	MetaDescription *string               `json:"meta_description"`
	Tags            *string               `json:"tags"`
	ThumbnailURL    *string               `json:"thumbnail_url"`
	PublishStatus   *models.PublishStatus `json:"publish_status"`
}

// ContentService is the content store
type ContentService struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewContentService(db *gorm.DB, logger *zap.Logger) *ContentService {
	return &ContentService{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a copy bound to an open transaction
func (s *ContentService) WithTx(tx *gorm.DB) *ContentService {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *ContentService) DeleteAllForProject(ctx context.Context, projectID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&models.GeneratedContent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete content: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *ContentService) BulkInsert(ctx context.Context, records []models.GeneratedContent) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&records, len(records)).Error; err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}
	return nil
}

// FindPendingIDs lists the ids of a project's pending items in insertion order
func (s *ContentService) FindPendingIDs(ctx context.Context, projectID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).
		Model(&models.GeneratedContent{}).
		Where("project_id = ? AND publish_status = ?", projectID, models.PublishStatusPending).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending content: %w", err)
	}
	return ids, nil
}

func (s *ContentService) CountByStatus(ctx context.Context, projectID uint, status models.PublishStatus) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.GeneratedContent{}).
		Where("project_id = ? AND publish_status = ?", projectID, status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count content: %w", err)
	}
	return count, nil
}

func (s *ContentService) Get(ctx context.Context, id uint) (*models.GeneratedContent, error) {
	var content models.GeneratedContent
	if err := s.db.WithContext(ctx).First(&content, id).Error; err != nil {
		return nil, notFound(err, "content %d", id)
	}
	return &content, nil
}

// Save writes the record back, keeping PublishedAt consistent with the status
func (s *ContentService) Save(ctx context.Context, content *models.GeneratedContent) error {
	if !content.PublishStatus.Valid() {
		return fmt.Errorf("%w: unknown publish status %q", ErrInvalidArgument, content.PublishStatus)
	}

	if content.PublishStatus == models.PublishStatusPublished {
		if content.PublishedAt == nil {
			now := s.now()
			content.PublishedAt = &now
		}
	} else {
		content.PublishedAt = nil
	}

	if err := s.db.WithContext(ctx).Save(content).Error; err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}
	return nil
}

func (s *ContentService) Update(ctx context.Context, id uint, update ContentUpdate) (*models.GeneratedContent, error) {
	content, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Title != nil {
		content.Title = strings.TrimSpace(*update.Title)
	}
	if update.Content != nil {
		content.Content = *update.Content
	}
	if update.MetaDescription != nil {
		content.MetaDescription = nonEmpty(*update.MetaDescription)
	}
	if update.Tags != nil {
		content.Tags = datatypes.JSONSlice[string](util.ParseTags(*update.Tags))
	}
	if update.ThumbnailURL != nil {
		content.ThumbnailURL = nonEmpty(*update.ThumbnailURL)
	}
	if update.PublishStatus != nil {
		content.PublishStatus = *update.PublishStatus
	}

	if err := s.Save(ctx, content); err != nil {
		return nil, err
	}
	return content, nil
}

func (s *ContentService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.GeneratedContent{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: content %d", ErrNotFound, id)
	}
	return nil
}

// FindAndCount returns one page of content plus the total matching count.
// Pages start at 1.
func (s *ContentService) FindAndCount(ctx context.Context, filter ContentFilter, page, limit int) ([]models.GeneratedContent, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	q := s.db.WithContext(ctx).Model(&models.GeneratedContent{})
	if filter.ProjectID != 0 {
		q = q.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Status != "" {
		q = q.Where("publish_status = ?", filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count content: %w", err)
	}

	var contents []models.GeneratedContent
	if err := q.Order("id ASC").Offset((page - 1) * limit).Limit(limit).Find(&contents).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list content: %w", err)
	}
	return contents, total, nil
}

// MarkPublished flips a pending item to published. It reports false when the
// item was no longer pending, e.g. edited or unpublished concurrently.
func (s *ContentService) MarkPublished(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.GeneratedContent{}).
		Where("id = ? AND publish_status = ?", id, models.PublishStatusPending).
		Updates(map[string]interface{}{
			"publish_status": models.PublishStatusPublished,
			"published_at":   at,
			"updated_at":     s.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark content %d published: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Unpublish moves published items back to pending. Items in any other status
// are left alone. A non-zero organizationID restricts the update to that
// organization's projects.
func (s *ContentService) Unpublish(ctx context.Context, organizationID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q := s.db.WithContext(ctx).
		Model(&models.GeneratedContent{}).
		Where("id IN ? AND publish_status = ?", ids, models.PublishStatusPublished)
	if organizationID != 0 {
		q = q.Where("project_id IN (?)", s.db.Model(&models.Project{}).Select("id").Where("organization_id = ?", organizationID))
	}

	res := q.Updates(map[string]interface{}{
		"publish_status": models.PublishStatusPending,
		"published_at":   nil,
		"updated_at":     s.now(),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to unpublish content: %w", res.Error)
	}

	s.logger.Info("Unpublished content", zap.Int("requested", len(ids)), zap.Int64("updated", res.RowsAffected))
	return res.RowsAffected, nil
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
