package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

const maxProviderResponseBytes = 1 << 20

// HTTPProviderConfig describes one remote classification backend.
type HTTPProviderConfig struct {
	Name     string
	Method   scanner.DetectionMethod
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPProvider calls a remote moderation API over JSON. Requests carry either
// a text extract or an image URL; responses are normalized into a
// ProviderVerdict so the chain never sees provider-specific shapes.
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	client *http.Client
}

// NewHTTPProvider builds a provider from config. A nil client selects a
// dedicated client with the configured timeout.
func NewHTTPProvider(cfg HTTPProviderConfig, client *http.Client) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPProvider{cfg: cfg, client: client}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

func (p *HTTPProvider) Method() scanner.DetectionMethod { return p.cfg.Method }

type classifyRequest struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type classifyResponse struct {
	Compliant  bool    `json:"compliant"`
	Confidence float64 `json:"confidence"`
	Violations []struct {
		Type       string  `json:"type"`
		Keyword    string  `json:"keyword"`
		Confidence float64 `json:"confidence"`
	} `json:"violations"`
}

// Classify posts the content to the provider endpoint and normalizes the
// response. Any transport error, non-2xx status, or malformed body is
// returned as an error so the chain can advance to the next provider.
func (p *HTTPProvider) Classify(ctx context.Context, content scanner.Content) (scanner.ProviderVerdict, error) {
	body, err := json.Marshal(classifyRequest{Text: content.Text, ImageURL: content.ImageURL})
	if err != nil {
		return scanner.ProviderVerdict{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return scanner.ProviderVerdict{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return scanner.ProviderVerdict{}, fmt.Errorf("%s: %w: %v", p.cfg.Name, scanner.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderResponseBytes))
		return scanner.ProviderVerdict{}, fmt.Errorf("%s: %w: status %d", p.cfg.Name, scanner.ErrProviderUnavailable, resp.StatusCode)
	}

	var decoded classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderResponseBytes)).Decode(&decoded); err != nil {
		return scanner.ProviderVerdict{}, fmt.Errorf("%s: decode response: %w", p.cfg.Name, err)
	}

	verdict := scanner.ProviderVerdict{
		Compliant:  decoded.Compliant,
		Confidence: decoded.Confidence,
	}
	for _, v := range decoded.Violations {
		verdict.Violations = append(verdict.Violations, scanner.Violation{
			Type:       v.Type,
			Keyword:    v.Keyword,
			Confidence: v.Confidence,
		})
	}
	if len(verdict.Violations) > 0 {
		verdict.Compliant = false
		if verdict.Confidence == 0 {
			for _, v := range verdict.Violations {
				if v.Confidence > verdict.Confidence {
					verdict.Confidence = v.Confidence
				}
			}
		}
	}
	return verdict, nil
}
