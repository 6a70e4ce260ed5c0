package scanner

import (
	"context"
	"time"
)

// Instance is a handle to one live headless-browser process. Exactly one
// crawl owns an instance between Acquire and Release.
type Instance interface {
	ID() string
	CreatedAt() time.Time
	// NewTab returns a context that drives a fresh tab in this instance,
	// plus its cancel function. The tab inherits the caller's deadline.
	NewTab(ctx context.Context) (context.Context, context.CancelFunc)
}

// InstancePool bounds and recycles browser instances behind the memory
// guard's admission gate.
type InstancePool interface {
	Acquire(ctx context.Context) (Instance, error)
	Release(inst Instance)
	Active() int
}

// Crawler produces PageContent for one target using an acquired instance.
type Crawler interface {
	Crawl(ctx context.Context, inst Instance, target string) (PageContent, error)
}

// Classifier scores extracted content and returns a merged verdict.
type Classifier interface {
	Classify(ctx context.Context, page PageContent) ClassificationVerdict
}

// Content is the uniform input to a classification provider: exactly one of
// Text or ImageURL is set.
type Content struct {
	Text     string
	ImageURL string
}

// ProviderVerdict is a single provider's normalized answer.
type ProviderVerdict struct {
	Compliant  bool
	Violations []Violation
	Confidence float64
}

// Provider is one classification backend in the fallback chain.
type Provider interface {
	Name() string
	Method() DetectionMethod
	Classify(ctx context.Context, content Content) (ProviderVerdict, error)
}

// ResultCache stores scan results keyed by target with a TTL. A hit
// short-circuits the entire pipeline.
type ResultCache interface {
	Get(ctx context.Context, target string) (ScanResult, bool)
	Set(ctx context.Context, target string, result ScanResult, ttl time.Duration)
	Flush(ctx context.Context)
}

// AlertSink delivers violation alerts downstream. Delivery is fire-and-forget
// from the scan's perspective.
type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}

// ResultStore persists scan results for history queries.
type ResultStore interface {
	InsertResult(ctx context.Context, result ScanResult) error
	ListResults(ctx context.Context, target string, limit int) ([]ScanResult, error)
}

// EvidenceStore writes raw evidence artifacts and returns a URI.
type EvidenceStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes scan completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for evidence object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scan IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
