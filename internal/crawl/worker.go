// Package crawl drives a single browser instance through navigation,
// extraction, and degradation strategies for one target.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// attemptState tracks the per-attempt pipeline stage, mainly for logging.
type attemptState string

const (
	stateStarting      attemptState = "starting"
	stateNavigating    attemptState = "navigating"
	stateWaitingStable attemptState = "waiting_stable"
	stateExtracting    attemptState = "extracting"
)

// Config controls navigation, extraction, and degradation behavior.
type Config struct {
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	RetryCount        int
	RetryBaseDelay    time.Duration
	TextCap           int
	ImageCap          int

	// Degraded profile, used after repeated full-pipeline failures.
	DegradedTimeout time.Duration
	DegradedTextCap int

	RespectRobots bool
	UserAgent     string
}

func (c *Config) applyDefaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.TextCap <= 0 {
		c.TextCap = 10000
	}
	if c.ImageCap <= 0 {
		c.ImageCap = 5
	}
	if c.DegradedTimeout <= 0 {
		c.DegradedTimeout = 15 * time.Second
	}
	if c.DegradedTextCap <= 0 {
		c.DegradedTextCap = 1000
	}
}

// profile is one navigation strategy. The degraded profile trades the scroll
// cycle and most of the text budget for a higher chance of finishing at all.
type profile struct {
	navTimeout time.Duration
	settle     time.Duration
	scroll     bool
	textCap    int
	degraded   bool
}

// Worker produces PageContent for one target on an acquired instance.
// Workers hold no shared mutable state; one Worker serves concurrent scans.
type Worker struct {
	cfg    Config
	robots *RobotsChecker
	logger *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(cfg Config, logger *zap.Logger) *Worker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		cfg:    cfg,
		logger: logger,
	}
	if cfg.RespectRobots {
		w.robots = NewRobotsChecker(cfg.UserAgent, cfg.NavigationTimeout)
	}
	return w
}

func (w *Worker) fullProfile() profile {
	return profile{
		navTimeout: w.cfg.NavigationTimeout,
		settle:     w.cfg.SettleDelay,
		scroll:     true,
		textCap:    w.cfg.TextCap,
	}
}

func (w *Worker) degradedProfile() profile {
	return profile{
		navTimeout: w.cfg.DegradedTimeout,
		settle:     0,
		scroll:     false,
		textCap:    w.cfg.DegradedTextCap,
		degraded:   true,
	}
}

// Crawl fetches and extracts one target. Navigation failures are retried
// with exponential backoff; after two consecutive full-pipeline failures a
// single degraded attempt runs before the failure is surfaced.
func (w *Worker) Crawl(ctx context.Context, inst scanner.Instance, target string) (scanner.PageContent, error) {
	url := NormalizeTarget(target)

	if w.robots != nil {
		if err := w.robots.Allowed(ctx, url); err != nil {
			return scanner.PageContent{}, err
		}
	}

	policy := newBackoffPolicy(w.cfg.RetryCount+1, w.cfg.RetryBaseDelay)
	full := w.fullProfile()

	var (
		lastErr  error
		failures int
	)
	for attempt := 0; attempt <= w.cfg.RetryCount; attempt++ {
		page, err := w.attempt(ctx, inst, url, full)
		if err == nil {
			return page, nil
		}
		lastErr = err
		failures++
		w.logger.Warn("crawl attempt failed",
			zap.String("target", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !policy.shouldRetry(err, attempt+1) || errors.Is(err, scanner.ErrExtractionEmpty) {
			break
		}
		if sleepErr := sleepWithContext(ctx, policy.backoff(attempt)); sleepErr != nil {
			return scanner.PageContent{}, fmt.Errorf("crawl backoff: %w", sleepErr)
		}
	}

	if ctx.Err() != nil {
		return scanner.PageContent{}, fmt.Errorf("crawl %s: %w", url, ctx.Err())
	}

	// Many pages fail under the default profile for transient reasons a
	// lighter pass avoids; one degraded attempt before giving up.
	if failures >= 2 && !errors.Is(lastErr, scanner.ErrExtractionEmpty) {
		w.logger.Info("entering degraded crawl mode", zap.String("target", url))
		page, err := w.attempt(ctx, inst, url, w.degradedProfile())
		if err == nil {
			return page, nil
		}
		lastErr = err
	}

	return scanner.PageContent{}, lastErr
}

// attempt runs one pass of the Starting -> Navigating -> WaitingStable ->
// Extracting pipeline under the given profile.
func (w *Worker) attempt(ctx context.Context, inst scanner.Instance, url string, prof profile) (scanner.PageContent, error) {
	state := stateStarting
	start := time.Now()

	tabCtx, tabCancel := inst.NewTab(ctx)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, prof.navTimeout)
	defer navCancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(navCtx, meta.captureEvent)

	state = stateNavigating
	if err := chromedp.Run(navCtx,
		enableNetworkAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return scanner.PageContent{}, w.classifyNavError(ctx, navCtx, url, state, err)
	}

	// Settle and scroll failures are non-fatal: extraction proceeds on
	// best-effort content.
	state = stateWaitingStable
	if prof.settle > 0 || prof.scroll {
		if err := w.waitStable(navCtx, prof); err != nil {
			w.logger.Debug("stabilization incomplete",
				zap.String("target", url),
				zap.String("state", string(state)),
				zap.Error(err),
			)
		}
	}

	state = stateExtracting
	page, err := w.extract(navCtx, url, prof)
	if err != nil {
		if ctx.Err() != nil || navCtx.Err() == nil {
			return scanner.PageContent{}, err
		}
		return scanner.PageContent{}, w.classifyNavError(ctx, navCtx, url, state, err)
	}

	page.Latency = time.Since(start)
	page.StatusCode = meta.status()
	page.Degraded = prof.degraded
	return page, nil
}

func (w *Worker) waitStable(ctx context.Context, prof profile) error {
	actions := []chromedp.Action{}
	if prof.settle > 0 {
		actions = append(actions, chromedp.Sleep(prof.settle))
	}
	if prof.scroll {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.Evaluate(`window.scrollTo(0, 0)`, nil),
			chromedp.Sleep(500*time.Millisecond),
		)
	}
	if len(actions) == 0 {
		return nil
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("stabilize page: %w", err)
	}
	return nil
}

// classifyNavError maps a chromedp failure onto the scan error taxonomy.
// The caller's deadline firing always wins over per-attempt timeouts.
func (w *Worker) classifyNavError(ctx, navCtx context.Context, url string, state attemptState, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("crawl %s (%s): %w", url, state, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || navCtx.Err() != nil {
		return fmt.Errorf("crawl %s (%s): %w", url, state, scanner.ErrNavigationTimedOut)
	}
	return fmt.Errorf("crawl %s (%s): %v: %w", url, state, err, scanner.ErrNavigationFailed)
}

// NormalizeTarget ensures the target carries a scheme.
func NormalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "https://" + target
}
