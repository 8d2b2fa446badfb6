package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager fans content out to every registered publisher
type Manager struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	order      []string
	logger     *zap.Logger
}

func NewPublishManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		logger:     logger,
	}
}

func (m *Manager) RegisterPublisher(publisher Publisher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	platformName := publisher.GetPlatformName()
	if _, exists := m.publishers[platformName]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platformName)
	}

	m.publishers[platformName] = publisher
	m.order = append(m.order, platformName)
	m.logger.Info("Publisher registered", zap.String("platform", platformName))
	return nil
}

func (m *Manager) GetPublisher(platformName string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publisher, exists := m.publishers[platformName]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platformName)
	}
	return publisher, nil
}

// GetAvailablePublishers returns the publishers in registration order
func (m *Manager) GetAvailablePublishers() []Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publishers := make([]Publisher, 0, len(m.order))
	for _, name := range m.order {
		publishers = append(publishers, m.publishers[name])
	}
	return publishers
}

// PublishToAll delivers content to every publisher. All publishers are tried;
// the returned error joins every failure.
func (m *Manager) PublishToAll(ctx context.Context, content *PublishContent) (map[string]*PublishResult, error) {
	results := make(map[string]*PublishResult)
	var errs []error

	for _, publisher := range m.GetAvailablePublishers() {
		platformName := publisher.GetPlatformName()

		result, err := publisher.Publish(ctx, *content)
		if err != nil {
			m.logger.Error("Failed to publish content",
				zap.String("platform", platformName),
				zap.Uint("content_id", content.ID),
				zap.Error(err))
			results[platformName] = &PublishResult{Success: false}
			errs = append(errs, fmt.Errorf("%s: %w", platformName, err))
			continue
		}

		results[platformName] = result
		m.logger.Debug("Publishing completed",
			zap.String("platform", platformName),
			zap.Uint("content_id", content.ID),
			zap.String("publish_id", result.PublishID))
	}

	return results, errors.Join(errs...)
}
