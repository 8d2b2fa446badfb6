package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/render"
	"github.com/azkastekom/massweb/internal/storage"
)

// TemplateSet is the set of templates a project renders its content with
type TemplateSet struct {
	Content         string  `json:"content_template"`
	Title           *string `json:"title_template"`
	MetaDescription *string `json:"meta_description_template"`
	Tags            *string `json:"tags_template"`
	Thumbnail       *string `json:"thumbnail_template"`
}

type ProjectService struct {
	db       *gorm.DB
	logger   *zap.Logger
	renderer render.Renderer
	store    storage.Store
}

func NewProjectService(db *gorm.DB, logger *zap.Logger, renderer render.Renderer, store storage.Store) *ProjectService {
	return &ProjectService{
		db:       db,
		logger:   logger,
		renderer: renderer,
		store:    store,
	}
}

// validate compiles every template so broken syntax is rejected on save
func (s *ProjectService) validate(tpl TemplateSet) error {
	if strings.TrimSpace(tpl.Content) == "" {
		return fmt.Errorf("%w: content template is required", ErrInvalidArgument)
	}

	sources := map[string]*string{
		"content":          &tpl.Content,
		"title":            tpl.Title,
		"meta_description": tpl.MetaDescription,
		"tags":             tpl.Tags,
		"thumbnail":        tpl.Thumbnail,
	}
	for field, src := range sources {
		if _, err := render.Optional(s.renderer, src); err != nil {
			return &RenderError{Field: field, Err: err}
		}
	}
	return nil
}

func (s *ProjectService) Create(ctx context.Context, organizationID uint, name string, tpl TemplateSet) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidArgument)
	}
	if err := s.validate(tpl); err != nil {
		return nil, err
	}

	project := &models.Project{
		OrganizationID:          organizationID,
		Name:                    strings.TrimSpace(name),
		ContentTemplate:         tpl.Content,
		TitleTemplate:           tpl.Title,
		MetaDescriptionTemplate: tpl.MetaDescription,
		TagsTemplate:            tpl.Tags,
		ThumbnailTemplate:       tpl.Thumbnail,
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info("Created project", zap.Uint("project_id", project.ID), zap.String("name", project.Name))
	return project, nil
}

// Get loads a project. A zero organizationID skips organization scoping.
func (s *ProjectService) Get(ctx context.Context, organizationID, id uint) (*models.Project, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if organizationID != 0 {
		q = q.Where("organization_id = ?", organizationID)
	}

	var project models.Project
	if err := q.First(&project).Error; err != nil {
		return nil, notFound(err, "project %d", id)
	}
	return &project, nil
}

func (s *ProjectService) UpdateTemplates(ctx context.Context, organizationID, id uint, tpl TemplateSet) (*models.Project, error) {
	project, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(tpl); err != nil {
		return nil, err
	}

	project.ContentTemplate = tpl.Content
	project.TitleTemplate = tpl.Title
	project.MetaDescriptionTemplate = tpl.MetaDescription
	project.TagsTemplate = tpl.Tags
	project.ThumbnailTemplate = tpl.Thumbnail

	if err := s.db.WithContext(ctx).Save(project).Error; err != nil {
		return nil, fmt.Errorf("failed to update templates: %w", err)
	}
	return project, nil
}

// SetThumbnail stores an uploaded image and makes it the default thumbnail of
// content generated afterwards
func (s *ProjectService) SetThumbnail(ctx context.Context, organizationID, id uint, filename, contentType string, r io.Reader) (*models.Project, error) {
	project, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("projects/%d/thumbnails/%s%s", project.ID, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
	url, err := s.store.Put(ctx, key, contentType, r)
	if err != nil {
		return nil, fmt.Errorf("failed to store thumbnail: %w", err)
	}

	project.ThumbnailURL = url
	if err := s.db.WithContext(ctx).Model(project).Update("thumbnail_url", url).Error; err != nil {
		return nil, fmt.Errorf("failed to save thumbnail url: %w", err)
	}
	return project, nil
}

// Delete removes a project with its dataset, content and job history. A
// project with an active publish job cannot be deleted.
func (s *ProjectService) Delete(ctx context.Context, organizationID, id uint) error {
	project, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.PublishJob{}).
			Where("project_id = ? AND status IN ?", project.ID, models.ActiveJobStatuses).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: project %d has an active publish job", ErrInvalidState, project.ID)
		}

		for _, model := range []interface{}{&models.Row{}, &models.Column{}, &models.GeneratedContent{}, &models.PublishJob{}} {
			if err := tx.Where("project_id = ?", project.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(project).Error
	})
	if err != nil {
		return err
	}

	if err := s.store.DeletePrefix(ctx, fmt.Sprintf("projects/%d", project.ID)); err != nil {
		s.logger.Warn("Failed to delete project assets", zap.Uint("project_id", project.ID), zap.Error(err))
	}

	s.logger.Info("Deleted project", zap.Uint("project_id", project.ID))
	return nil
}
