package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// evidencePayload serializes the material a reviewer needs to audit a
// violation verdict: the extracted content and the violations themselves.
func evidencePayload(result scanner.ScanResult) ([]byte, error) {
	payload := struct {
		ScanID     string               `json:"scan_id"`
		Target     string               `json:"target"`
		ScannedAt  string               `json:"scanned_at"`
		Page       *scanner.PageContent `json:"page,omitempty"`
		Violations []scanner.Violation  `json:"violations"`
		Risk       scanner.RiskLevel    `json:"risk"`
	}{
		ScanID:    result.ID,
		Target:    result.Target,
		ScannedAt: result.FinishedAt.UTC().Format(time.RFC3339),
		Page:      result.Page,
	}
	if result.Verdict != nil {
		payload.Violations = result.Verdict.Violations
		payload.Risk = result.Verdict.Risk
	}
	return json.Marshal(payload)
}
