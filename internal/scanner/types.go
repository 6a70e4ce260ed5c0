// Package scanner defines core types shared across subsystems.
package scanner

import "time"

// ScanStatus represents the terminal state of a scan.
type ScanStatus string

// Scan status values recorded on results.
const (
	ScanStatusSuccess ScanStatus = "success"
	ScanStatusFailed  ScanStatus = "failed"
	ScanStatusTimeout ScanStatus = "timeout"
)

// DetectionMethod identifies which classification provider produced a verdict.
type DetectionMethod string

// Detection method values, ordered by chain position.
const (
	MethodPrimaryAPI     DetectionMethod = "primary-api"
	MethodSecondaryAPI   DetectionMethod = "secondary-api"
	MethodLocalHeuristic DetectionMethod = "local-heuristic"
)

// RiskLevel grades the severity of detected violations.
type RiskLevel string

// Risk levels, lowest to highest.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrdinal = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Ordinal returns the rank of the risk level for comparisons.
func (r RiskLevel) Ordinal() int {
	return riskOrdinal[r]
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Ordinal() > a.Ordinal() {
		return b
	}
	return a
}

// RiskFromConfidence maps a violation confidence to a severity grade.
func RiskFromConfidence(confidence float64) RiskLevel {
	switch {
	case confidence >= 0.9:
		return RiskCritical
	case confidence >= 0.8:
		return RiskHigh
	case confidence >= 0.7:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ScanRequest captures one scan submission. It is immutable once submitted;
// the orchestrator owns it for its lifetime.
type ScanRequest struct {
	Target      string    `json:"target"`
	MaxPages    int       `json:"max_pages"`
	Priority    int       `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MemorySample is one point in the memory trend window.
type MemorySample struct {
	At              time.Time `json:"at"`
	Percent         float64   `json:"percent"`
	ActiveInstances int       `json:"active_instances"`
}

// PageContent is the extracted payload for one target. Immutable once
// returned by the crawl worker.
type PageContent struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Text       string        `json:"text"`
	Images     []string      `json:"images"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency_ms"`
	Degraded   bool          `json:"degraded"`
}

// Violation is one detected policy violation with its provider confidence.
type Violation struct {
	Type       string  `json:"type"`
	Keyword    string  `json:"keyword,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ClassificationVerdict is the merged outcome of the provider chain.
type ClassificationVerdict struct {
	Compliant  bool            `json:"compliant"`
	Risk       RiskLevel       `json:"risk"`
	Violations []Violation     `json:"violations,omitempty"`
	Method     DetectionMethod `json:"detection_method"`
	Latency    time.Duration   `json:"latency_ms"`
}

// MaxConfidence returns the highest violation confidence, 0 when compliant.
func (v ClassificationVerdict) MaxConfidence() float64 {
	max := 0.0
	for _, violation := range v.Violations {
		if violation.Confidence > max {
			max = violation.Confidence
		}
	}
	return max
}

// ScanResult is created once per request and never mutated after being
// handed to the cache/alert collaborators.
type ScanResult struct {
	ID         string                 `json:"id"`
	Target     string                 `json:"target"`
	Status     ScanStatus             `json:"status"`
	Page       *PageContent           `json:"page,omitempty"`
	Verdict    *ClassificationVerdict `json:"verdict,omitempty"`
	ErrorText  string                 `json:"error_text,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Duration   time.Duration          `json:"duration_ms"`
}

// Compliant reports whether the scan completed with a compliant verdict.
func (r ScanResult) Compliant() bool {
	return r.Status == ScanStatusSuccess && r.Verdict != nil && r.Verdict.Compliant
}

// Alert is the payload emitted to the alerting collaborator when a scan
// detects violations above the configured confidence threshold.
type Alert struct {
	SourceModule string            `json:"source_module"`
	AlertType    string            `json:"alert_type"`
	Target       string            `json:"target"`
	Severity     RiskLevel         `json:"severity"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Violations   []Violation       `json:"violations"`
	Evidence     string            `json:"evidence"`
	Tags         []string          `json:"tags"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
