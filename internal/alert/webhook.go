package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/metrics"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// Config describes the alert webhook endpoint.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// WebhookSink posts violation alerts to an HTTP endpoint as JSON. Delivery
// failures are logged and counted but never fail the scan that raised the
// alert.
type WebhookSink struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSink constructs a sink. A nil client selects a dedicated client
// with the configured timeout.
func NewWebhookSink(cfg Config, client *http.Client, logger *zap.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{cfg: cfg, client: client, logger: logger.Named("alerts")}
}

// Send delivers one alert. The returned error is informational; callers are
// expected to treat delivery as fire-and-forget.
func (s *WebhookSink) Send(ctx context.Context, alert scanner.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		metrics.ObserveAlert("error")
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		metrics.ObserveAlert("error")
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ObserveAlert("error")
		s.logger.Warn("alert delivery failed",
			zap.String("target", alert.Target),
			zap.Error(err),
		)
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.ObserveAlert("rejected")
		s.logger.Warn("alert endpoint rejected payload",
			zap.String("target", alert.Target),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}

	metrics.ObserveAlert("delivered")
	s.logger.Info("alert delivered",
		zap.String("target", alert.Target),
		zap.String("severity", string(alert.Severity)),
	)
	return nil
}
