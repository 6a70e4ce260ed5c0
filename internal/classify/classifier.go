package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/metrics"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// Config bounds the provider chain.
type Config struct {
	// TextTimeout is the per-provider budget for one text classification call.
	TextTimeout time.Duration
	// ImageTimeout is the per-provider budget for one image classification
	// call. Image checks are auxiliary, so they get a shorter leash.
	ImageTimeout time.Duration
}

// DefaultConfig returns the chain timeouts used in production.
func DefaultConfig() Config {
	return Config{
		TextTimeout:  10 * time.Second,
		ImageTimeout: 5 * time.Second,
	}
}

// Chain runs content through an ordered list of providers, falling back to
// the next on any error. Providers appear at most once per item, so a failed
// provider is never retried for the same content. The final provider is
// expected to be the local keyword fallback, which cannot fail and still runs
// when the scan deadline has already expired.
type Chain struct {
	cfg       Config
	providers []scanner.Provider
	logger    *zap.Logger
}

// NewChain builds a classifier over the given providers in fallback order.
func NewChain(cfg Config, providers []scanner.Provider, logger *zap.Logger) *Chain {
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = DefaultConfig().TextTimeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = DefaultConfig().ImageTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{cfg: cfg, providers: providers, logger: logger.Named("classifier")}
}

// Classify scores the page text and each extracted image reference. The
// verdict is compliant only when the text and every image pass; risk is the
// highest level any violation's confidence maps to; the detection method
// records which provider answered for the text.
func (c *Chain) Classify(ctx context.Context, page scanner.PageContent) scanner.ClassificationVerdict {
	started := time.Now()

	textVerdict, method := c.classifyOne(ctx, scanner.Content{Text: page.Text}, c.cfg.TextTimeout)

	verdict := scanner.ClassificationVerdict{
		Compliant:  textVerdict.Compliant,
		Violations: textVerdict.Violations,
		Method:     method,
	}

	for _, img := range page.Images {
		imgVerdict, _ := c.classifyOne(ctx, scanner.Content{ImageURL: img}, c.cfg.ImageTimeout)
		if !imgVerdict.Compliant {
			verdict.Compliant = false
			verdict.Violations = append(verdict.Violations, imgVerdict.Violations...)
		}
	}

	verdict.Risk = scanner.RiskLow
	for _, v := range verdict.Violations {
		verdict.Risk = scanner.MaxRisk(verdict.Risk, scanner.RiskFromConfidence(v.Confidence))
	}
	verdict.Latency = time.Since(started)

	metrics.ObserveClassification(string(verdict.Method))
	return verdict
}

// classifyOne walks the chain once for a single content item. Each provider
// gets its own timeout; an error advances to the next provider and the same
// provider is never called again for this item. The terminal provider runs
// even after the scan deadline fires: it is the local keyword pass, which
// needs no network and must still produce a real verdict, never a fabricated
// compliant one.
func (c *Chain) classifyOne(ctx context.Context, content scanner.Content, timeout time.Duration) (scanner.ProviderVerdict, scanner.DetectionMethod) {
	for i, provider := range c.providers {
		callCtx := ctx
		if i == len(c.providers)-1 {
			callCtx = context.WithoutCancel(ctx)
		} else if ctx.Err() != nil {
			continue
		}
		timedCtx, cancel := context.WithTimeout(callCtx, timeout)
		verdict, err := provider.Classify(timedCtx, content)
		cancel()
		if err != nil {
			metrics.ObserveProviderFailure(provider.Name())
			c.logger.Warn("provider failed, falling back",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			continue
		}
		return verdict, provider.Method()
	}

	// Reachable only when every provider errored, which a chain ending in
	// the local fallback never does. Fail open rather than block the scan.
	c.logger.Error("all classification providers failed")
	return scanner.ProviderVerdict{Compliant: true}, scanner.MethodLocalHeuristic
}
