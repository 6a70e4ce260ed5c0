package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// RobotsChecker runs an optional politeness preflight before any browser
// navigation: a colly collector fetches robots.txt and refuses targets that
// disallow the scanner's user agent. A blocked target fails without
// consuming navigation retries or a browser page load.
type RobotsChecker struct {
	userAgent string
	timeout   time.Duration
}

// NewRobotsChecker builds a checker.
func NewRobotsChecker(userAgent string, timeout time.Duration) *RobotsChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsChecker{
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Allowed reports whether the target may be fetched. Robots fetch failures
// are treated as allow-all: politeness must not turn an unreachable
// robots.txt into a scan failure.
func (c *RobotsChecker) Allowed(ctx context.Context, target string) error {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = false
	collector.SetRequestTimeout(c.timeout)
	if c.userAgent != "" {
		collector.UserAgent = c.userAgent
	}

	var visitErr error
	collector.OnRequest(func(r *colly.Request) {
		// The preflight only needs the robots verdict, which colly applies
		// before issuing the request; abort to skip the body download.
		r.Abort()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		visitErr = collector.Visit(target)
		collector.Wait()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("robots preflight: %w", ctx.Err())
	case <-done:
	}

	if errors.Is(visitErr, colly.ErrRobotsTxtBlocked) {
		return fmt.Errorf("%s: %w", target, scanner.ErrBlockedByRobots)
	}
	return nil
}
