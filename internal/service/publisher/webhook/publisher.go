// Package webhook delivers content by POSTing it as JSON to a configured URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/service/publisher"
)

const maxErrorBody = 1024

type WebhookPublisher struct {
	logger  *zap.Logger
	client  *http.Client
	url     string
	headers map[string]string
}

type webhookRequest struct {
	Event   string                   `json:"event"`
	SentAt  time.Time                `json:"sent_at"`
	Content publisher.PublishContent `json:"content"`
}

// webhookResponse is optional; receivers may answer with an empty body
type webhookResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func NewWebhookPublisher(logger *zap.Logger, cfg config.WebhookConfig) (*WebhookPublisher, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid webhook url %q: %w", cfg.URL, err)
	}

	timeout := 15 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}

	return &WebhookPublisher{
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		url:     cfg.URL,
		headers: cfg.Headers,
	}, nil
}

func (p *WebhookPublisher) GetPlatformName() string {
	return "webhook"
}

func (p *WebhookPublisher) Publish(ctx context.Context, content publisher.PublishContent) (*publisher.PublishResult, error) {
	jsonData, err := json.Marshal(webhookRequest{
		Event:   "content.published",
		SentAt:  time.Now().UTC(),
		Content: content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		p.logger.Error("Webhook error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(body)),
			zap.String("url", p.url))
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	result := &publisher.PublishResult{
		Success:     true,
		PublishedAt: time.Now().UTC(),
	}

	var parsed webhookResponse
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &parsed) == nil {
		result.PublishID = parsed.ID
		result.URL = parsed.URL
	}

	return result, nil
}
