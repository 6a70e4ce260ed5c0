package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

func sampleAlert() scanner.Alert {
	return scanner.Alert{
		SourceModule: "scan-orchestrator",
		AlertType:    "content_violation",
		Target:       "https://example.com",
		Severity:     scanner.RiskHigh,
		Title:        "Content violation detected on https://example.com",
		Description:  "1 violation(s) found via primary-api with max confidence 0.85",
		Violations: []scanner.Violation{
			{Type: "gambling", Keyword: "casino", Confidence: 0.85},
		},
		Tags:     []string{"gambling"},
		Metadata: map[string]string{"scan_id": "scan-1"},
	}
}

func TestWebhookSink_Send_DeliversJSONPayload(t *testing.T) {
	t.Parallel()

	var gotAuth, gotContentType string
	var decoded map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	sink := NewWebhookSink(Config{Endpoint: srv.URL, APIKey: "secret"}, srv.Client(), nil)

	require.NoError(t, sink.Send(context.Background(), sampleAlert()))
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "scan-orchestrator", decoded["source_module"])
	require.Equal(t, "content_violation", decoded["alert_type"])
	require.Equal(t, "https://example.com", decoded["target"])
	require.Equal(t, "high", decoded["severity"])
}

func TestWebhookSink_Send_RejectedStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	sink := NewWebhookSink(Config{Endpoint: srv.URL}, srv.Client(), nil)

	err := sink.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
}

func TestWebhookSink_Send_TransportFailureIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := srv.Client()
	srv.Close()

	sink := NewWebhookSink(Config{Endpoint: srv.URL}, client, nil)

	require.Error(t, sink.Send(context.Background(), sampleAlert()))
}

func TestWebhookSink_Send_HonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	t.Cleanup(srv.Close)

	sink := NewWebhookSink(Config{Endpoint: srv.URL}, srv.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, sink.Send(ctx, sampleAlert()))
}
