package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRiskFromConfidence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		confidence float64
		want       RiskLevel
	}{
		{0.95, RiskCritical},
		{0.9, RiskCritical},
		{0.85, RiskHigh},
		{0.8, RiskHigh},
		{0.75, RiskMedium},
		{0.7, RiskMedium},
		{0.5, RiskLow},
		{0, RiskLow},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, RiskFromConfidence(tc.confidence), "confidence %v", tc.confidence)
	}
}

func TestMaxRisk(t *testing.T) {
	t.Parallel()

	require.Equal(t, RiskCritical, MaxRisk(RiskLow, RiskCritical))
	require.Equal(t, RiskCritical, MaxRisk(RiskCritical, RiskMedium))
	require.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskHigh))
	require.Equal(t, RiskLow, MaxRisk(RiskLow, RiskLow))
}

func TestClassificationVerdict_MaxConfidence(t *testing.T) {
	t.Parallel()

	empty := ClassificationVerdict{Compliant: true}
	require.Zero(t, empty.MaxConfidence())

	verdict := ClassificationVerdict{
		Violations: []Violation{
			{Type: "gambling", Confidence: 0.6},
			{Type: "adult", Confidence: 0.92},
			{Type: "violence", Confidence: 0.8},
		},
	}
	require.InDelta(t, 0.92, verdict.MaxConfidence(), 1e-9)
}

func TestScanResult_Compliant(t *testing.T) {
	t.Parallel()

	require.False(t, ScanResult{Status: ScanStatusSuccess}.Compliant(), "no verdict means non-compliant")
	require.False(t, ScanResult{
		Status:  ScanStatusFailed,
		Verdict: &ClassificationVerdict{Compliant: true},
	}.Compliant(), "failed scans are never compliant")
	require.False(t, ScanResult{
		Status:  ScanStatusSuccess,
		Verdict: &ClassificationVerdict{Compliant: false},
	}.Compliant())
	require.True(t, ScanResult{
		Status:  ScanStatusSuccess,
		Verdict: &ClassificationVerdict{Compliant: true},
	}.Compliant())
}
