package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/service/publisher"
	"github.com/azkastekom/massweb/internal/service/publisher/webhook"
)

// NewPublisherManager builds the publisher registry from configuration. With
// nothing enabled the registry is empty and publishing only flips statuses.
func NewPublisherManager(cfg *config.PublisherConfig, logger *zap.Logger) (*publisher.Manager, error) {
	manager := publisher.NewPublishManager(logger)

	if cfg.Webhook.Enabled {
		webhookPublisher, err := webhook.NewWebhookPublisher(logger, cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook publisher: %w", err)
		}
		if err := manager.RegisterPublisher(webhookPublisher); err != nil {
			return nil, err
		}
	}

	return manager, nil
}
