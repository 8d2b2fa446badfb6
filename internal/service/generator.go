package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/render"
	"github.com/azkastekom/massweb/pkg/util"
)

// GenerateResult summarizes one expansion run
type GenerateResult struct {
	GeneratedCount        int      `json:"generated_count"`
	EstimatedCombinations int64    `json:"estimated_combinations"`
	SkippedDuplicates     int      `json:"skipped_duplicates"`
	DeletedCount          int64    `json:"deleted_count"`
	KeyColumns            []string `json:"key_columns"`
	EmptyKeyColumns       []string `json:"empty_key_columns,omitempty"`
}

// GeneratorService expands a project's dataset into content items, one per
// combination of distinct key column values
type GeneratorService struct {
	db       *gorm.DB
	logger   *zap.Logger
	config   *config.GeneratorConfig
	renderer render.Renderer
	datasets *DatasetService
	contents *ContentService
	metrics  *Metrics
}

func NewGeneratorService(db *gorm.DB, logger *zap.Logger, cfg *config.GeneratorConfig, renderer render.Renderer, datasets *DatasetService, contents *ContentService, metrics *Metrics) *GeneratorService {
	return &GeneratorService{
		db:       db,
		logger:   logger,
		config:   cfg,
		renderer: renderer,
		datasets: datasets,
		contents: contents,
		metrics:  metrics,
	}
}

type projectTemplates struct {
	content   render.Template
	title     render.Template
	meta      render.Template
	tags      render.Template
	thumbnail render.Template
}

func (s *GeneratorService) compile(project *models.Project) (*projectTemplates, error) {
	var tpls projectTemplates
	var err error

	if tpls.content, err = s.renderer.Compile(project.ContentTemplate); err != nil {
		return nil, &RenderError{Field: "content", Err: err}
	}
	if tpls.title, err = render.Optional(s.renderer, project.TitleTemplate); err != nil {
		return nil, &RenderError{Field: "title", Err: err}
	}
	if tpls.meta, err = render.Optional(s.renderer, project.MetaDescriptionTemplate); err != nil {
		return nil, &RenderError{Field: "meta_description", Err: err}
	}
	if tpls.tags, err = render.Optional(s.renderer, project.TagsTemplate); err != nil {
		return nil, &RenderError{Field: "tags", Err: err}
	}
	if tpls.thumbnail, err = render.Optional(s.renderer, project.ThumbnailTemplate); err != nil {
		return nil, &RenderError{Field: "thumbnail", Err: err}
	}
	return &tpls, nil
}

// valueSpace holds the distinct values of every key column and the constants
// shared by all combinations
type valueSpace struct {
	keys   []string
	values [][]string
	shared map[string]string
}

// size returns the number of combinations, saturating at math.MaxInt64
func (v *valueSpace) size() int64 {
	total := int64(1)
	for _, vals := range v.values {
		n := int64(len(vals))
		if n == 0 {
			return 0
		}
		if total > math.MaxInt64/n {
			return math.MaxInt64
		}
		total *= n
	}
	return total
}

// combination decodes index i as a mixed-radix number whose most significant
// digit is the first key column
func (v *valueSpace) combination(i int64) []string {
	picked := make([]string, len(v.keys))
	for k := len(v.keys) - 1; k >= 0; k-- {
		n := int64(len(v.values[k]))
		picked[k] = v.values[k][i%n]
		i /= n
	}
	return picked
}

// scan pages through the dataset collecting distinct trimmed values of the
// key columns and the first non-empty value of every other column
func (s *GeneratorService) scan(ctx context.Context, projectID uint, columns, keys []string) (*valueSpace, error) {
	space := &valueSpace{
		keys:   keys,
		values: make([][]string, len(keys)),
		shared: make(map[string]string),
	}

	isKey := make(map[string]struct{}, len(keys))
	seen := make([]map[string]struct{}, len(keys))
	for i, k := range keys {
		isKey[k] = struct{}{}
		seen[i] = make(map[string]struct{})
	}

	pageSize := s.config.RowPageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	for offset := 0; ; offset += pageSize {
		rows, err := s.datasets.FindRows(ctx, projectID, offset, pageSize)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			data := row.Values()
			for i, k := range keys {
				val := strings.TrimSpace(data[k])
				if val == "" {
					continue
				}
				if _, dup := seen[i][val]; dup {
					continue
				}
				seen[i][val] = struct{}{}
				space.values[i] = append(space.values[i], val)
			}
			for _, c := range columns {
				if _, key := isKey[c]; key {
					continue
				}
				if _, set := space.shared[c]; set {
					continue
				}
				if val := strings.TrimSpace(data[c]); val != "" {
					space.shared[c] = val
				}
			}
		}

		if len(rows) < pageSize {
			break
		}
	}

	return space, nil
}

// Generate replaces a project's content with one item per key column
// combination. Nothing is written when the combination count exceeds the
// configured ceiling or a template fails to render.
func (s *GeneratorService) Generate(ctx context.Context, projectID uint) (result *GenerateResult, err error) {
	start := time.Now()
	defer func() {
		created := 0
		if result != nil {
			created = result.GeneratedCount
		}
		s.metrics.ObserveGeneration(created, time.Since(start), err)
	}()

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		return nil, notFound(err, "project %d", projectID)
	}

	rowCount, err := s.datasets.CountRows(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if rowCount == 0 {
		return nil, fmt.Errorf("%w: project %d has no dataset rows", ErrNotFound, projectID)
	}

	columnRecords, err := s.datasets.FindColumns(ctx, projectID)
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(columnRecords))
	for i, c := range columnRecords {
		columns[i] = c.Name
	}

	tpls, err := s.compile(&project)
	if err != nil {
		return nil, err
	}

	keys := render.KeyColumns(project.TitleTemplate, columns)
	space, err := s.scan(ctx, projectID, columns, keys)
	if err != nil {
		return nil, err
	}

	result = &GenerateResult{KeyColumns: keys}

	// A key column without any value would zero the product. It contributes
	// an empty substitution instead so the remaining columns still expand.
	for i, vals := range space.values {
		if len(vals) == 0 {
			space.values[i] = []string{""}
			result.EmptyKeyColumns = append(result.EmptyKeyColumns, keys[i])
		}
	}
	if len(result.EmptyKeyColumns) > 0 {
		s.logger.Warn("Key columns have no values",
			zap.Uint("project_id", projectID),
			zap.Strings("columns", result.EmptyKeyColumns))
	}

	limit := s.config.MaxCombinations
	total := space.size()
	result.EstimatedCombinations = total
	if total > int64(limit) {
		return nil, &LimitExceededError{Estimated: total, Limit: limit}
	}

	batchSize := s.config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Content of a project with a live job belongs to that job's driver
		var active models.PublishJob
		err := tx.Where("project_id = ? AND status IN ?", projectID, models.ActiveJobStatuses).First(&active).Error
		if err == nil {
			return fmt.Errorf("%w: project %d has %s publish job %s", ErrInvalidState, projectID, active.Status, active.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up active job: %w", err)
		}

		contents := s.contents.WithTx(tx)

		deleted, err := contents.DeleteAllForProject(ctx, projectID)
		if err != nil {
			return err
		}
		result.DeletedCount = deleted

		seenSlugs := make(map[string]struct{}, total)
		batch := make([]models.GeneratedContent, 0, batchSize)

		for i := int64(0); i < total; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			picked := space.combination(i)
			record, err := s.renderItem(&project, tpls, space, picked, int(i)+1)
			if err != nil {
				return err
			}

			if _, dup := seenSlugs[record.Slug]; dup {
				result.SkippedDuplicates++
				continue
			}
			seenSlugs[record.Slug] = struct{}{}

			batch = append(batch, *record)
			if len(batch) == batchSize {
				if err := contents.BulkInsert(ctx, batch); err != nil {
					return err
				}
				result.GeneratedCount += len(batch)
				batch = batch[:0]
			}
		}

		if err := contents.BulkInsert(ctx, batch); err != nil {
			return err
		}
		result.GeneratedCount += len(batch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Generated content",
		zap.Uint("project_id", projectID),
		zap.Strings("key_columns", keys),
		zap.Int64("estimated", total),
		zap.Int("generated", result.GeneratedCount),
		zap.Int("skipped_duplicates", result.SkippedDuplicates),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func (s *GeneratorService) renderItem(project *models.Project, tpls *projectTemplates, space *valueSpace, picked []string, ordinal int) (*models.GeneratedContent, error) {
	data := make(map[string]string, len(space.shared)+len(space.keys))
	for k, v := range space.shared {
		data[k] = v
	}
	for i, k := range space.keys {
		data[k] = picked[i]
	}

	content, err := tpls.content.Render(data)
	if err != nil {
		return nil, &RenderError{Field: "content", Err: err}
	}

	var title string
	if tpls.title != nil {
		if title, err = tpls.title.Render(data); err != nil {
			return nil, &RenderError{Field: "title", Err: err}
		}
	} else {
		parts := make([]string, 0, len(picked))
		for _, p := range picked {
			if p != "" {
				parts = append(parts, p)
			}
		}
		title = strings.Join(parts, " ")
	}
	title = strings.TrimSpace(title)

	record := &models.GeneratedContent{
		ProjectID:     project.ID,
		Content:       content,
		Title:         title,
		Slug:          util.ProjectSlug(project.ID, title, ordinal),
		PublishStatus: models.PublishStatusPending,
	}

	if tpls.meta != nil {
		meta, err := tpls.meta.Render(data)
		if err != nil {
			return nil, &RenderError{Field: "meta_description", Err: err}
		}
		record.MetaDescription = nonEmpty(meta)
	}

	if tpls.tags != nil {
		raw, err := tpls.tags.Render(data)
		if err != nil {
			return nil, &RenderError{Field: "tags", Err: err}
		}
		if tags := util.ParseTags(raw); len(tags) > 0 {
			record.Tags = datatypes.JSONSlice[string](tags)
		}
	}

	record.ThumbnailURL = nonEmpty(project.ThumbnailURL)
	if tpls.thumbnail != nil {
		thumb, err := tpls.thumbnail.Render(data)
		if err != nil {
			return nil, &RenderError{Field: "thumbnail", Err: err}
		}
		if url := nonEmpty(thumb); url != nil {
			record.ThumbnailURL = url
		}
	}

	return record, nil
}
