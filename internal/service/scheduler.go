package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/azkastekom/massweb/internal/config"
)

// Scheduler advances one publish job per tick. Ticks never overlap, so a
// process drives at most one job at a time.
type Scheduler struct {
	config *config.SchedulerConfig
	logger *zap.Logger
	jobs   *PublishJobService
	ticker *time.Ticker
	stopCh chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, jobs *PublishJobService) *Scheduler {
	return &Scheduler{
		config: cfg,
		logger: logger,
		jobs:   jobs,
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.Interval)
	if err != nil {
		s.logger.Error("Invalid scheduler interval", zap.String("interval", s.config.Interval), zap.Error(err))
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}

	s.logger.Info("Starting scheduler", zap.String("interval", s.config.Interval))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ticker = time.NewTicker(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.runTick(runCtx)
		for {
			select {
			case <-s.ticker.C:
				s.runTick(runCtx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-runCtx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop interrupts the job in flight, which hands its lease back, and waits
// for the loop to exit
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Scheduled publish failed", zap.Error(err))
	}
}

// Tick advances the next runnable job, if any. It reports whether a job was
// run. Panics are recovered so the loop keeps ticking.
func (s *Scheduler) Tick(ctx context.Context) (ran bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler tick panicked", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("scheduler tick panicked: %v", r)
		}
	}()

	job, err := s.jobs.NextRunnable(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	err = s.jobs.Advance(ctx, job.ID)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Publish job run failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
			zap.Duration("duration", duration))
		return true, err
	}

	s.logger.Info("Publish job run finished",
		zap.String("job_id", job.ID),
		zap.Duration("duration", duration))
	return true, nil
}
