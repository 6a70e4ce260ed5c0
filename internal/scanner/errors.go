package scanner

import "errors"

// Sentinel errors forming the scan error taxonomy. Callers distinguish them
// with errors.Is; wrapped variants carry per-call context.
var (
	// ErrInvalidRequest marks malformed input. Never retried.
	ErrInvalidRequest = errors.New("invalid scan request")

	// ErrCapacityUnavailable marks pool or memory admission failure within
	// the deadline. Retryable later; never a content failure.
	ErrCapacityUnavailable = errors.New("scan capacity unavailable")

	// ErrMemoryExhausted marks the emergency memory tier. Surfaced to
	// in-flight acquires as ErrCapacityUnavailable.
	ErrMemoryExhausted = errors.New("memory exhausted")

	// ErrNavigationFailed marks a page load that errored out after retries.
	ErrNavigationFailed = errors.New("navigation failed")

	// ErrNavigationTimedOut marks a page load that exceeded its deadline
	// after retries.
	ErrNavigationTimedOut = errors.New("navigation timed out")

	// ErrExtractionEmpty marks a page where every selector strategy yielded
	// no text. Classification is skipped.
	ErrExtractionEmpty = errors.New("extraction yielded no content")

	// ErrBlockedByRobots marks a target whose robots.txt disallows the
	// scanner's user agent.
	ErrBlockedByRobots = errors.New("blocked by robots.txt")

	// ErrProviderUnavailable marks a single classification provider failure.
	// Always recovered by advancing the chain.
	ErrProviderUnavailable = errors.New("classification provider unavailable")

	// ErrCancelled marks a scan aborted by its caller's context.
	ErrCancelled = errors.New("scan cancelled")
)
