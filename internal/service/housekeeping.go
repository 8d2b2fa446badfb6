package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const gaugeRefreshSchedule = "@every 1m"

// Housekeeper runs the periodic maintenance: retention cleanup on the
// configured cron schedule and a gauge refresh every minute
type Housekeeper struct {
	monitoring    *MonitoringService
	metrics       *Metrics
	logger        *zap.Logger
	cron          *cron.Cron
	schedule      string
	retentionDays int
}

func NewHousekeeper(monitoring *MonitoringService, metrics *Metrics, logger *zap.Logger, schedule string, retentionDays int) *Housekeeper {
	return &Housekeeper{
		monitoring:    monitoring,
		metrics:       metrics,
		logger:        logger,
		cron:          cron.New(),
		schedule:      schedule,
		retentionDays: retentionDays,
	}
}

// Start registers the cron entries and starts the cron runner
func (h *Housekeeper) Start(ctx context.Context) error {
	if _, err := h.cron.AddFunc(h.schedule, func() { h.Cleanup(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", h.schedule, err)
	}
	if _, err := h.cron.AddFunc(gaugeRefreshSchedule, func() { h.RefreshGauges(ctx) }); err != nil {
		return err
	}

	h.cron.Start()
	h.logger.Info("Starting housekeeper", zap.String("cleanup_schedule", h.schedule), zap.Int("retention_days", h.retentionDays))

	go h.RefreshGauges(ctx)
	return nil
}

// Stop waits for running entries to finish
func (h *Housekeeper) Stop() {
	<-h.cron.Stop().Done()
	h.logger.Info("Housekeeper stopped")
}

func (h *Housekeeper) Cleanup(ctx context.Context) {
	if h.retentionDays <= 0 {
		return
	}
	if err := h.monitoring.CleanupOldData(ctx, h.retentionDays); err != nil {
		h.logger.Error("Failed to cleanup old data", zap.Error(err))
	}
}

func (h *Housekeeper) RefreshGauges(ctx context.Context) {
	snap, err := h.monitoring.Snapshot(ctx)
	if err != nil {
		h.logger.Error("Failed to refresh gauges", zap.Error(err))
		return
	}
	h.metrics.SetSnapshot(snap)
}
