// Package orchestrator coordinates one scan end to end: admission, crawl,
// classification, persistence, and alerting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/crawl"
	"github.com/sitewatch/compliance-scanner/internal/metrics"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// Config controls Orchestrator behavior.
type Config struct {
	// ScanTimeout is the overall budget for one scan. When it expires the
	// whole pipeline is cancelled and the result carries timeout status.
	ScanTimeout time.Duration
	// CacheTTL is how long a completed result short-circuits re-scans of the
	// same target.
	CacheTTL time.Duration
	// AlertThreshold is the minimum violation confidence that raises an
	// alert for a non-compliant result.
	AlertThreshold float64
	// AlertTimeout bounds fire-and-forget alert delivery.
	AlertTimeout time.Duration
	// EvidencePrefix namespaces evidence objects in blob storage.
	EvidencePrefix string
	// Topic receives scan completion events. Empty disables publishing.
	Topic string
	// BatchConcurrency caps concurrent scans in ScanBatch. The instance pool
	// still bounds browsers; this only limits goroutine fan-out.
	BatchConcurrency int
}

// DefaultConfig returns the production pipeline settings.
func DefaultConfig() Config {
	return Config{
		ScanTimeout:      2 * time.Minute,
		CacheTTL:         24 * time.Hour,
		AlertThreshold:   0.7,
		AlertTimeout:     15 * time.Second,
		EvidencePrefix:   "evidence",
		BatchConcurrency: 8,
	}
}

// Orchestrator runs the scan pipeline. Persistence, evidence, publishing,
// and alerting collaborators are optional; a nil collaborator disables that
// stage without affecting the scan verdict.
type Orchestrator struct {
	pool       scanner.InstancePool
	crawler    scanner.Crawler
	classifier scanner.Classifier
	cache      scanner.ResultCache
	alerts     scanner.AlertSink
	results    scanner.ResultStore
	evidence   scanner.EvidenceStore
	publisher  scanner.Publisher
	hasher     scanner.Hasher
	clock      scanner.Clock
	ids        scanner.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(
	pool scanner.InstancePool,
	crawler scanner.Crawler,
	classifier scanner.Classifier,
	cache scanner.ResultCache,
	alerts scanner.AlertSink,
	results scanner.ResultStore,
	evidence scanner.EvidenceStore,
	publisher scanner.Publisher,
	hasher scanner.Hasher,
	clock scanner.Clock,
	ids scanner.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = def.AlertThreshold
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = def.AlertTimeout
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		pool:       pool,
		crawler:    crawler,
		classifier: classifier,
		cache:      cache,
		alerts:     alerts,
		results:    results,
		evidence:   evidence,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}
}

// Scan runs one target through the full pipeline. A cached result returns
// immediately without touching the instance pool. Admission failures return
// an error; crawl and classification failures return a completed result with
// failed or timeout status.
func (o *Orchestrator) Scan(ctx context.Context, req scanner.ScanRequest) (scanner.ScanResult, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return scanner.ScanResult{}, fmt.Errorf("%w: empty target", scanner.ErrInvalidRequest)
	}
	target = crawl.NormalizeTarget(target)

	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, target); ok {
			metrics.ObserveCacheHit()
			o.logger.Debug("cache hit", zap.String("target", target))
			return cached, nil
		}
	}

	id, err := o.ids.NewID()
	if err != nil {
		return scanner.ScanResult{}, fmt.Errorf("generate scan id: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancel()

	inst, err := o.pool.Acquire(scanCtx)
	if err != nil {
		if ctx.Err() != nil {
			return scanner.ScanResult{}, fmt.Errorf("%w: %w", scanner.ErrCancelled, ctx.Err())
		}
		return scanner.ScanResult{}, err
	}

	result := scanner.ScanResult{
		ID:        id,
		Target:    target,
		StartedAt: o.clock.Now(),
	}
	func() {
		// Release must run exactly once even if crawl or classification
		// panics; the deferred call covers every exit path.
		defer o.pool.Release(inst)
		result = o.runPipeline(scanCtx, inst, result)
	}()

	result.FinishedAt = o.clock.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if ctx.Err() != nil && result.Status != scanner.ScanStatusSuccess {
		return scanner.ScanResult{}, fmt.Errorf("%w: %w", scanner.ErrCancelled, ctx.Err())
	}

	o.finishScan(ctx, result)
	return result, nil
}

// runPipeline executes crawl and classification against an acquired
// instance and fills in the verdict portion of the result.
func (o *Orchestrator) runPipeline(ctx context.Context, inst scanner.Instance, result scanner.ScanResult) scanner.ScanResult {
	page, err := o.crawler.Crawl(ctx, inst, result.Target)
	if err != nil {
		result.Status = crawlFailureStatus(ctx, err)
		result.ErrorText = err.Error()
		o.logger.Warn("crawl failed",
			zap.String("scan_id", result.ID),
			zap.String("target", result.Target),
			zap.String("status", string(result.Status)),
			zap.Error(err),
		)
		return result
	}

	result.Page = &page
	verdict := o.classifier.Classify(ctx, page)
	result.Verdict = &verdict
	result.Status = scanner.ScanStatusSuccess
	return result
}

// finishScan handles everything downstream of the verdict: caching,
// persistence, evidence, events, and alerting. Failures here are logged and
// counted but never change the scan outcome.
func (o *Orchestrator) finishScan(ctx context.Context, result scanner.ScanResult) {
	metrics.ObserveScan(result.Target, string(result.Status), result.Duration)

	if o.cache != nil && result.Status == scanner.ScanStatusSuccess {
		o.cache.Set(ctx, result.Target, result, o.cfg.CacheTTL)
	}

	evidenceURI := ""
	if result.Status == scanner.ScanStatusSuccess && !result.Compliant() {
		evidenceURI = o.storeEvidence(ctx, result)
	}

	if o.results != nil {
		if err := o.results.InsertResult(ctx, result); err != nil {
			o.logger.Error("persist result failed",
				zap.String("scan_id", result.ID),
				zap.Error(err),
			)
		}
	}

	o.publishCompletion(ctx, result, evidenceURI)

	if o.shouldAlert(result) {
		o.sendAlert(ctx, result, evidenceURI)
	}

	o.logger.Info("scan finished",
		zap.String("scan_id", result.ID),
		zap.String("target", result.Target),
		zap.String("status", string(result.Status)),
		zap.Bool("compliant", result.Compliant()),
		zap.Duration("duration", result.Duration),
	)
}

// storeEvidence writes the extracted content and violations as a JSON blob
// named by content hash. Returns the object URI, or empty on failure.
func (o *Orchestrator) storeEvidence(ctx context.Context, result scanner.ScanResult) string {
	if o.evidence == nil || o.hasher == nil {
		return ""
	}
	payload, err := evidencePayload(result)
	if err != nil {
		o.logger.Error("encode evidence failed", zap.String("scan_id", result.ID), zap.Error(err))
		return ""
	}
	hash, err := o.hasher.Hash(payload)
	if err != nil {
		o.logger.Error("hash evidence failed", zap.String("scan_id", result.ID), zap.Error(err))
		return ""
	}
	path := o.buildEvidencePath(result.ID, hash)
	uri, err := o.evidence.PutObject(ctx, path, "application/json", payload)
	if err != nil {
		o.logger.Error("store evidence failed",
			zap.String("scan_id", result.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (o *Orchestrator) buildEvidencePath(scanID, hash string) string {
	prefix := strings.Trim(o.cfg.EvidencePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", scanID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, scanID, hash)
}

func (o *Orchestrator) publishCompletion(ctx context.Context, result scanner.ScanResult, evidenceURI string) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"scan_id":   result.ID,
		"target":    result.Target,
		"status":    string(result.Status),
		"compliant": result.Compliant(),
		"timestamp": result.FinishedAt.Format(time.RFC3339),
	}
	if result.Verdict != nil {
		payload["risk"] = string(result.Verdict.Risk)
		payload["method"] = string(result.Verdict.Method)
	}
	if evidenceURI != "" {
		payload["evidence_uri"] = evidenceURI
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		o.logger.Error("publish completion failed",
			zap.String("scan_id", result.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) shouldAlert(result scanner.ScanResult) bool {
	if o.alerts == nil || result.Status != scanner.ScanStatusSuccess || result.Verdict == nil || result.Compliant() {
		return false
	}
	return result.Verdict.MaxConfidence() >= o.cfg.AlertThreshold
}

// sendAlert delivers the alert on a detached context so a slow alert
// endpoint never holds up the scan response.
func (o *Orchestrator) sendAlert(ctx context.Context, result scanner.ScanResult, evidenceURI string) {
	alert := buildAlert(result, evidenceURI)
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AlertTimeout)
	go func() {
		defer cancel()
		if err := o.alerts.Send(alertCtx, alert); err != nil {
			o.logger.Warn("alert delivery failed",
				zap.String("scan_id", result.ID),
				zap.Error(err),
			)
		}
	}()
}

// ScanBatch fans targets out over a bounded set of workers and returns one
// result slot per target, in input order. Per-target failures are folded
// into failed result entries rather than aborting the batch.
func (o *Orchestrator) ScanBatch(ctx context.Context, targets []string) []scanner.ScanResult {
	results := make([]scanner.ScanResult, len(targets))
	sem := make(chan struct{}, o.cfg.BatchConcurrency)
	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = failedResult(target, o.clock.Now(), ctx.Err())
				return
			}
			res, err := o.Scan(ctx, scanner.ScanRequest{Target: target, SubmittedAt: o.clock.Now()})
			if err != nil {
				results[i] = failedResult(target, o.clock.Now(), err)
				return
			}
			results[i] = res
		}(i, target)
	}
	wg.Wait()
	return results
}

func failedResult(target string, now time.Time, err error) scanner.ScanResult {
	return scanner.ScanResult{
		Target:     target,
		Status:     scanner.ScanStatusFailed,
		ErrorText:  err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
}

// crawlFailureStatus maps a crawl error to the terminal scan status. The
// overall deadline expiring makes the scan a timeout; anything else is a
// failure.
func crawlFailureStatus(ctx context.Context, err error) scanner.ScanStatus {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, scanner.ErrNavigationTimedOut) {
		return scanner.ScanStatusTimeout
	}
	return scanner.ScanStatusFailed
}

func buildAlert(result scanner.ScanResult, evidenceURI string) scanner.Alert {
	types := violationTypes(result.Verdict.Violations)
	return scanner.Alert{
		SourceModule: "scan-orchestrator",
		AlertType:    "content_violation",
		Target:       result.Target,
		Severity:     result.Verdict.Risk,
		Title:        fmt.Sprintf("Content violation detected on %s", result.Target),
		Description: fmt.Sprintf("%d violation(s) found via %s with max confidence %.2f",
			len(result.Verdict.Violations), result.Verdict.Method, result.Verdict.MaxConfidence()),
		Violations: result.Verdict.Violations,
		Evidence:   evidenceURI,
		Tags:       types,
		Metadata: map[string]string{
			"scan_id": result.ID,
		},
	}
}

func violationTypes(violations []scanner.Violation) []string {
	var types []string
	seen := make(map[string]struct{}, len(violations))
	for _, v := range violations {
		if _, ok := seen[v.Type]; ok {
			continue
		}
		seen[v.Type] = struct{}{}
		types = append(types, v.Type)
	}
	return types
}
