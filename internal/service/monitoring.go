package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/models"
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// Snapshot counts jobs and content per status
type Snapshot struct {
	JobsByStatus     map[string]int64
	ContentsByStatus map[string]int64
}

// RecordError persists an error log entry
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	if err := m.db.Create(errorLog).Error; err != nil {
		m.logger.Error("Failed to record error", zap.String("title", title), zap.Error(err))
		return err
	}
	return nil
}

type ErrorLogOption func(*models.ErrorLog)

func WithProject(projectID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ProjectID = &projectID
	}
}

func WithJob(jobID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.JobID = &jobID
	}
}

func WithStackTrace(stackTrace string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.StackTrace = stackTrace
	}
}

func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = datatypes.JSON(contextBytes)
		}
	}
}

// scoped restricts error logs to those of an organization's projects. Logs
// without a project are only visible unscoped.
func (m *MonitoringService) scoped(ctx context.Context, organizationID uint) *gorm.DB {
	q := m.db.WithContext(ctx).Model(&models.ErrorLog{})
	if organizationID != 0 {
		q = q.Where("project_id IN (?)", m.db.Model(&models.Project{}).Select("id").Where("organization_id = ?", organizationID))
	}
	return q
}

// ListErrors pages through recorded errors, newest first. A non-zero
// organizationID limits the listing to that organization's projects.
func (m *MonitoringService) ListErrors(ctx context.Context, organizationID uint, page, limit int, unresolvedOnly bool) ([]models.ErrorLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	q := m.scoped(ctx, organizationID)
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.ErrorLog
	err := q.Order("created_at desc, id desc").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&logs).Error
	return logs, total, err
}

func (m *MonitoringService) ResolveError(ctx context.Context, organizationID, id uint) error {
	now := time.Now().UTC()
	res := m.scoped(ctx, organizationID).
		Where("id = ?", id).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: error log %d", ErrNotFound, id)
	}
	return nil
}

// Snapshot counts publish jobs and content items grouped by status
func (m *MonitoringService) Snapshot(ctx context.Context) (*Snapshot, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var jobs []statusCount
	if err := m.db.WithContext(ctx).Model(&models.PublishJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	var contents []statusCount
	if err := m.db.WithContext(ctx).Model(&models.GeneratedContent{}).
		Select("publish_status AS status, COUNT(*) AS count").
		Group("publish_status").
		Scan(&contents).Error; err != nil {
		return nil, fmt.Errorf("failed to count content: %w", err)
	}

	snap := &Snapshot{
		JobsByStatus:     make(map[string]int64, len(jobs)),
		ContentsByStatus: make(map[string]int64, len(contents)),
	}
	for _, c := range jobs {
		snap.JobsByStatus[c.Status] = c.Count
	}
	for _, c := range contents {
		snap.ContentsByStatus[c.Status] = c.Count
	}
	return snap, nil
}

// CleanupOldData removes terminal publish jobs and resolved errors older than
// daysToKeep days
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) error {
	cutoffDate := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	jobs := m.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.JobStatus{
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
		}, cutoffDate).
		Delete(&models.PublishJob{})
	if jobs.Error != nil {
		return fmt.Errorf("failed to cleanup publish jobs: %w", jobs.Error)
	}

	errs := m.db.WithContext(ctx).
		Where("created_at < ? AND resolved = ?", cutoffDate, true).
		Delete(&models.ErrorLog{})
	if errs.Error != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", errs.Error)
	}

	m.logger.Info("Cleaned up old data",
		zap.Int("retention_days", daysToKeep),
		zap.Int64("jobs", jobs.RowsAffected),
		zap.Int64("errors", errs.RowsAffected))
	return nil
}
