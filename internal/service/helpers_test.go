package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/render"
	"github.com/azkastekom/massweb/internal/service/publisher"
	"github.com/azkastekom/massweb/internal/storage"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique in-memory DB per test
	dsn := fmt.Sprintf("file:massweb_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

type fixture struct {
	db         *gorm.DB
	logger     *zap.Logger
	store      *storage.LocalStore
	projects   *ProjectService
	datasets   *DatasetService
	contents   *ContentService
	generator  *GeneratorService
	monitoring *MonitoringService
	publishers *publisher.Manager
	bus        *MemoryBus
	jobs       *PublishJobService
	genConfig  *config.GeneratorConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	log := zap.NewNop()
	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	renderer := render.NewHandlebarsRenderer()
	f := &fixture{
		db:         db,
		logger:     log,
		store:      store,
		genConfig:  &config.GeneratorConfig{MaxCombinations: 10000, BatchSize: 100, RowPageSize: 500},
		monitoring: NewMonitoringService(db, log),
		publishers: publisher.NewPublishManager(log),
		bus:        NewMemoryBus(),
	}
	f.projects = NewProjectService(db, log, renderer, store)
	f.datasets = NewDatasetService(db, log, store)
	f.contents = NewContentService(db, log)
	f.generator = NewGeneratorService(db, log, f.genConfig, renderer, f.datasets, f.contents, nil)
	f.jobs = NewPublishJobService(db, log, f.contents, f.publishers, f.monitoring, nil, f.bus, time.Minute)
	return f
}

func strPtr(s string) *string {
	return &s
}

func (f *fixture) createProject(t *testing.T, tpl TemplateSet) *models.Project {
	t.Helper()
	p, err := f.projects.Create(context.Background(), 0, "test project", tpl)
	require.NoError(t, err)
	return p
}

func (f *fixture) loadDataset(t *testing.T, projectID uint, headers []string, records [][]string) {
	t.Helper()
	_, err := f.datasets.ReplaceDataset(context.Background(), projectID, headers, records)
	require.NoError(t, err)
}

// seedContents inserts n pending items directly
func (f *fixture) seedContents(t *testing.T, projectID uint, n int) []models.GeneratedContent {
	t.Helper()
	records := make([]models.GeneratedContent, n)
	for i := range records {
		records[i] = models.GeneratedContent{
			ProjectID:     projectID,
			Title:         fmt.Sprintf("Item %d", i+1),
			Content:       fmt.Sprintf("body %d", i+1),
			Slug:          fmt.Sprintf("%d-item-%d", projectID, i+1),
			PublishStatus: models.PublishStatusPending,
		}
	}
	require.NoError(t, f.db.Create(&records).Error)
	return records
}

func (f *fixture) contentList(t *testing.T, projectID uint) []models.GeneratedContent {
	t.Helper()
	var out []models.GeneratedContent
	require.NoError(t, f.db.Where("project_id = ?", projectID).Order("id ASC").Find(&out).Error)
	return out
}

func (f *fixture) reloadJob(t *testing.T, id string) *models.PublishJob {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

// funcPublisher adapts a function to the Publisher interface
type funcPublisher struct {
	name string
	fn   func(ctx context.Context, c publisher.PublishContent) error
}

func (p *funcPublisher) GetPlatformName() string {
	return p.name
}

func (p *funcPublisher) Publish(ctx context.Context, c publisher.PublishContent) (*publisher.PublishResult, error) {
	if err := p.fn(ctx, c); err != nil {
		return nil, err
	}
	return &publisher.PublishResult{Success: true, PublishedAt: time.Now()}, nil
}
