package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/service/publisher"
)

// PublishJobService owns the publish job state machine. Status changes are
// conditional updates against the stored status, so concurrent callers can
// never apply an illegal transition.
type PublishJobService struct {
	db           *gorm.DB
	logger       *zap.Logger
	contents     *ContentService
	publishers   *publisher.Manager
	monitoring   *MonitoringService
	metrics      *Metrics
	bus          Bus
	leaseTimeout time.Duration

	running sync.Map
	now     func() time.Time
}

func NewPublishJobService(
	db *gorm.DB,
	logger *zap.Logger,
	contents *ContentService,
	publishers *publisher.Manager,
	monitoring *MonitoringService,
	metrics *Metrics,
	bus Bus,
	leaseTimeout time.Duration,
) *PublishJobService {
	if bus == nil {
		bus = NewMemoryBus()
	}
	return &PublishJobService{
		db:           db,
		logger:       logger,
		contents:     contents,
		publishers:   publishers,
		monitoring:   monitoring,
		metrics:      metrics,
		bus:          bus,
		leaseTimeout: leaseTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create records a pending job for the project. The scheduler picks it up on
// its next tick.
func (s *PublishJobService) Create(ctx context.Context, projectID uint, delaySeconds int) (*models.PublishJob, error) {
	return s.create(ctx, projectID, delaySeconds, models.JobStatusPending)
}

// create inserts a job in the given initial status. A job created as
// processing is already leased by the caller, so no scheduler tick can pick it.
func (s *PublishJobService) create(ctx context.Context, projectID uint, delaySeconds int, status models.JobStatus) (*models.PublishJob, error) {
	if delaySeconds < 0 {
		return nil, fmt.Errorf("%w: delay must not be negative", ErrInvalidArgument)
	}

	job := &models.PublishJob{
		ProjectID:    projectID,
		Status:       status,
		DelaySeconds: delaySeconds,
	}
	if status == models.JobStatusProcessing {
		now := s.now()
		job.StartedAt = &now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, projectID).Error; err != nil {
			return notFound(err, "project %d", projectID)
		}

		var active models.PublishJob
		err := tx.Where("project_id = ? AND status IN ?", projectID, models.ActiveJobStatuses).First(&active).Error
		if err == nil {
			return fmt.Errorf("%w: project %d already has %s job %s", ErrInvalidState, projectID, active.Status, active.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up active job: %w", err)
		}

		return tx.Create(job).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.JobTransition(status)
	s.logger.Info("Created publish job",
		zap.String("job_id", job.ID),
		zap.Uint("project_id", projectID),
		zap.String("status", string(status)),
		zap.Int("delay_seconds", delaySeconds))
	return job, nil
}

func (s *PublishJobService) Get(ctx context.Context, id string) (*models.PublishJob, error) {
	var job models.PublishJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFound(err, "publish job %s", id)
	}
	return &job, nil
}

// GetActive returns the project's pending, processing or paused job, or nil
func (s *PublishJobService) GetActive(ctx context.Context, projectID uint) (*models.PublishJob, error) {
	var job models.PublishJob
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND status IN ?", projectID, models.ActiveJobStatuses).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active job: %w", err)
	}
	return &job, nil
}

// List returns the project's jobs, newest first
func (s *PublishJobService) List(ctx context.Context, projectID uint) ([]models.PublishJob, error) {
	var jobs []models.PublishJob
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a finished job from the history
func (s *PublishJobService) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, job.Status)
	}
	return s.db.WithContext(ctx).Where("id = ? AND status = ?", id, job.Status).Delete(&models.PublishJob{}).Error
}

func (s *PublishJobService) Pause(ctx context.Context, id string) (*models.PublishJob, error) {
	job, err := s.transition(ctx, id, models.JobStatusPaused, nil)
	if err != nil {
		return nil, err
	}
	_ = s.bus.Notify(ctx, id)
	return job, nil
}

// Resume re-queues a paused job as pending
func (s *PublishJobService) Resume(ctx context.Context, id string) (*models.PublishJob, error) {
	return s.transition(ctx, id, models.JobStatusPending, nil)
}

func (s *PublishJobService) Cancel(ctx context.Context, id string) (*models.PublishJob, error) {
	job, err := s.transition(ctx, id, models.JobStatusCancelled, map[string]interface{}{
		"completed_at": s.now(),
	})
	if err != nil {
		return nil, err
	}
	_ = s.bus.Notify(ctx, id)
	return job, nil
}

// transition moves a job to `to` only if its stored status allows it
func (s *PublishJobService) transition(ctx context.Context, id string, to models.JobStatus, extra map[string]interface{}) (*models.PublishJob, error) {
	values := map[string]interface{}{
		"status":     to,
		"updated_at": s.now(),
	}
	for k, v := range extra {
		values[k] = v
	}

	res := s.db.WithContext(ctx).
		Model(&models.PublishJob{}).
		Where("id = ? AND status IN ?", id, models.SourcesOf(to)).
		Updates(values)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}

	if res.RowsAffected == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot move job %s from %s to %s", ErrInvalidState, id, job.Status, to)
	}

	s.metrics.JobTransition(to)
	s.logger.Info("Publish job status changed", zap.String("job_id", id), zap.String("status", string(to)))
	return s.Get(ctx, id)
}

// PublishNow creates a job already leased to the caller and drives it to a
// final state before returning
func (s *PublishJobService) PublishNow(ctx context.Context, projectID uint, delaySeconds int) (*models.PublishJob, error) {
	job, err := s.create(ctx, projectID, delaySeconds, models.JobStatusProcessing)
	if err != nil {
		return nil, err
	}

	s.running.Store(job.ID, struct{}{})
	advanceErr := s.run(ctx, job)
	s.running.Delete(job.ID)

	final, err := s.Get(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return nil, err
	}
	return final, advanceErr
}

// NextRunnable returns the oldest pending job or, failing that, a processing
// job whose driver stopped renewing its lease. It returns nil when idle.
func (s *PublishJobService) NextRunnable(ctx context.Context) (*models.PublishJob, error) {
	var job models.PublishJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusPending).
		Order("created_at ASC, id ASC").
		First(&job).Error
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find pending job: %w", err)
	}

	var candidates []models.PublishJob
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.JobStatusProcessing, s.now().Add(-s.leaseTimeout)).
		Order("updated_at ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}
	for i := range candidates {
		if s.isStale(&candidates[i], s.now()) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (s *PublishJobService) isStale(job *models.PublishJob, now time.Time) bool {
	return job.UpdatedAt.Before(now.Add(-(s.leaseTimeout + job.Delay())))
}

// Advance drives a job until its pending content is drained or its status is
// changed from outside. Only one driver may hold a job at a time.
func (s *PublishJobService) Advance(ctx context.Context, id string) (err error) {
	if _, busy := s.running.LoadOrStore(id, struct{}{}); busy {
		return fmt.Errorf("%w: job %s is already being advanced", ErrInvalidState, id)
	}
	defer s.running.Delete(id)

	job, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	return s.run(ctx, job)
}

// run drains a job the caller holds the lease for
func (s *PublishJobService) run(ctx context.Context, job *models.PublishJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(job, fmt.Errorf("panic while publishing: %v", r), string(debug.Stack()))
		}
	}()

	return s.drain(ctx, job)
}

// acquire leases the job by moving it pending -> processing, or takes over a
// stale processing job
func (s *PublishJobService) acquire(ctx context.Context, id string) (*models.PublishJob, error) {
	now := s.now()

	res := s.db.WithContext(ctx).
		Model(&models.PublishJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Updates(map[string]interface{}{"status": models.JobStatusProcessing, "updated_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to lease job %s: %w", id, res.Error)
	}

	if res.RowsAffected == 1 {
		s.metrics.JobTransition(models.JobStatusProcessing)
		return s.markStarted(ctx, id, now)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusProcessing || !s.isStale(job, now) {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, job.Status)
	}

	res = s.db.WithContext(ctx).
		Model(&models.PublishJob{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, models.JobStatusProcessing, now.Add(-(s.leaseTimeout+job.Delay()))).
		Update("updated_at", now)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to take over job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: job %s was taken over by another driver", ErrInvalidState, id)
	}

	s.logger.Warn("Recovered stale publish job", zap.String("job_id", id), zap.Time("last_update", job.UpdatedAt))
	return s.markStarted(ctx, id, now)
}

func (s *PublishJobService) markStarted(ctx context.Context, id string, now time.Time) (*models.PublishJob, error) {
	if err := s.db.WithContext(ctx).
		Model(&models.PublishJob{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", now).Error; err != nil {
		return nil, fmt.Errorf("failed to set job start: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PublishJobService) drain(ctx context.Context, job *models.PublishJob) error {
	wake, unsubscribe := s.bus.Subscribe(job.ID)
	defer unsubscribe()

	ids, err := s.contents.FindPendingIDs(ctx, job.ProjectID)
	if err != nil {
		return s.abort(ctx, job, err)
	}

	job.TotalContents = job.ProcessedCount + len(ids)
	if err := s.saveProgress(ctx, job); err != nil {
		return s.abort(ctx, job, err)
	}

	s.logger.Info("Publishing job",
		zap.String("job_id", job.ID),
		zap.Uint("project_id", job.ProjectID),
		zap.Int("remaining", len(ids)),
		zap.Int("total", job.TotalContents))

	for i, contentID := range ids {
		if i > 0 {
			if err := s.wait(ctx, job.Delay(), wake); err != nil {
				return s.abort(ctx, job, err)
			}
		}

		var current models.PublishJob
		if err := s.db.WithContext(ctx).Select("status").Where("id = ?", job.ID).First(&current).Error; err != nil {
			return s.abort(ctx, job, fmt.Errorf("failed to reload job status: %w", err))
		}
		if current.Status != models.JobStatusProcessing {
			s.logger.Info("Publish job stopped",
				zap.String("job_id", job.ID),
				zap.String("status", string(current.Status)),
				zap.Int("processed", job.ProcessedCount))
			return nil
		}

		if err := s.publishOne(ctx, contentID); err != nil {
			return s.abort(ctx, job, err)
		}

		job.ProcessedCount++
		if err := s.saveProgress(ctx, job); err != nil {
			return s.abort(ctx, job, err)
		}
	}

	now := s.now()
	res := s.db.WithContext(ctx).
		Model(&models.PublishJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return s.abort(ctx, job, res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Info("Publish job changed status before completing", zap.String("job_id", job.ID))
		return nil
	}

	s.metrics.JobTransition(models.JobStatusCompleted)
	s.logger.Info("Publish job completed",
		zap.String("job_id", job.ID),
		zap.Int("processed", job.ProcessedCount),
		zap.Int("total", job.TotalContents))
	return nil
}

// publishOne hands an item to the publishers and flips it to published.
// Items deleted or no longer pending are counted as processed and skipped.
func (s *PublishJobService) publishOne(ctx context.Context, contentID uint) error {
	content, err := s.contents.Get(ctx, contentID)
	if errors.Is(err, ErrNotFound) {
		s.metrics.ContentSkipped()
		return nil
	}
	if err != nil {
		return err
	}
	if content.PublishStatus != models.PublishStatusPending {
		s.metrics.ContentSkipped()
		return nil
	}

	if s.publishers != nil {
		if _, err := s.publishers.PublishToAll(ctx, publisher.FromGeneratedContent(content)); err != nil {
			return fmt.Errorf("failed to publish content %d: %w", contentID, err)
		}
	}

	updated, err := s.contents.MarkPublished(ctx, contentID, s.now())
	if err != nil {
		return err
	}
	if updated {
		s.metrics.ContentPublished()
	} else {
		s.metrics.ContentSkipped()
	}
	return nil
}

func (s *PublishJobService) saveProgress(ctx context.Context, job *models.PublishJob) error {
	err := s.db.WithContext(ctx).
		Model(&models.PublishJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"processed_count": job.ProcessedCount,
			"total_contents":  job.TotalContents,
			"updated_at":      s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save job progress: %w", err)
	}
	return nil
}

// wait sleeps for d unless the context ends or the job is signalled
func (s *PublishJobService) wait(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-wake:
	}
	return nil
}

// abort ends a drain early: a cancelled context hands the lease back so the
// job resumes later, anything else fails the job
func (s *PublishJobService) abort(ctx context.Context, job *models.PublishJob, cause error) error {
	if ctx.Err() != nil {
		s.release(job)
		return ctx.Err()
	}
	return s.fail(job, cause, "")
}

func (s *PublishJobService) release(job *models.PublishJob) {
	res := s.db.
		Model(&models.PublishJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusProcessing).
		Updates(map[string]interface{}{"status": models.JobStatusPending, "updated_at": s.now()})
	if res.Error != nil {
		s.logger.Error("Failed to release publish job", zap.String("job_id", job.ID), zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 1 {
		s.logger.Info("Released publish job", zap.String("job_id", job.ID), zap.Int("processed", job.ProcessedCount))
	}
}

func (s *PublishJobService) fail(job *models.PublishJob, cause error, stack string) error {
	msg := cause.Error()
	now := s.now()

	res := s.db.
		Model(&models.PublishJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.JobStatusFailed,
			"error_message": msg,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		s.logger.Error("Failed to mark publish job failed", zap.String("job_id", job.ID), zap.Error(res.Error))
	} else if res.RowsAffected == 1 {
		s.metrics.JobTransition(models.JobStatusFailed)
	}

	s.logger.Error("Publish job failed",
		zap.String("job_id", job.ID),
		zap.Uint("project_id", job.ProjectID),
		zap.Int("processed", job.ProcessedCount),
		zap.Error(cause))

	if s.monitoring != nil {
		options := []ErrorLogOption{
			WithJob(job.ID),
			WithProject(job.ProjectID),
			WithContext(map[string]interface{}{
				"processed_count": job.ProcessedCount,
				"total_contents":  job.TotalContents,
			}),
		}
		if stack != "" {
			options = append(options, WithStackTrace(stack))
		}
		_ = s.monitoring.RecordError("ERROR", "publisher", "Publish job failed", msg, options...)
	}

	return fmt.Errorf("publish job %s failed: %w", job.ID, cause)
}
