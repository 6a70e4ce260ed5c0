package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/config"
	"github.com/sitewatch/compliance-scanner/internal/memguard"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
	memstore "github.com/sitewatch/compliance-scanner/internal/storage/memory"
)

type fakeScanService struct {
	result scanner.ScanResult
	err    error
}

func (s *fakeScanService) Scan(_ context.Context, req scanner.ScanRequest) (scanner.ScanResult, error) {
	if s.err != nil {
		return scanner.ScanResult{}, s.err
	}
	res := s.result
	if res.Target == "" {
		res.Target = req.Target
	}
	return res, nil
}

func (s *fakeScanService) ScanBatch(ctx context.Context, targets []string) []scanner.ScanResult {
	results := make([]scanner.ScanResult, len(targets))
	for i, target := range targets {
		res, err := s.Scan(ctx, scanner.ScanRequest{Target: target})
		if err != nil {
			res = scanner.ScanResult{Target: target, Status: scanner.ScanStatusFailed, ErrorText: err.Error()}
		}
		results[i] = res
	}
	return results
}

type fakeMemoryReporter struct {
	tier  memguard.Tier
	trend []scanner.MemorySample
}

func (m *fakeMemoryReporter) CurrentTier() memguard.Tier    { return m.tier }
func (m *fakeMemoryReporter) Trend() []scanner.MemorySample { return m.trend }

type testClock struct{}

func (testClock) Now() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Scanner.ScanTimeoutSeconds = 120
	return cfg
}

func newTestServer(t *testing.T, scans ScanService, memory MemoryReporter, results scanner.ResultStore, cfg config.Config) *httptest.Server {
	t.Helper()
	s := NewServer(scans, memory, results, testClock{}, cfg, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(payload)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_SubmitScan_ReturnsResult(t *testing.T) {
	t.Parallel()

	scans := &fakeScanService{result: scanner.ScanResult{
		ID:     "scan-1",
		Status: scanner.ScanStatusSuccess,
	}}
	srv := newTestServer(t, scans, &fakeMemoryReporter{tier: memguard.TierNormal}, nil, testConfig())

	resp := postJSON(t, srv.URL+"/v1/scans", `{"target": "example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var result scanner.ScanResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "scan-1", result.ID)
	require.Equal(t, "example.com", result.Target)
}

func TestServer_SubmitScan_InvalidJSONIs400(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeScanService{}, nil, nil, testConfig())

	resp := postJSON(t, srv.URL+"/v1/scans", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SubmitScan_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", scanner.ErrInvalidRequest, http.StatusBadRequest},
		{"capacity", scanner.ErrCapacityUnavailable, http.StatusServiceUnavailable},
		{"memory", scanner.ErrMemoryExhausted, http.StatusServiceUnavailable},
		{"cancelled", scanner.ErrCancelled, http.StatusRequestTimeout},
		{"other", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakeScanService{err: tc.err}, nil, nil, testConfig())
			resp := postJSON(t, srv.URL+"/v1/scans", `{"target": "example.com"}`)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestServer_SubmitBatch_RequiresTargets(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeScanService{}, nil, nil, testConfig())

	resp := postJSON(t, srv.URL+"/v1/scans/batch", `{"targets": []}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SubmitBatch_ReturnsAllResults(t *testing.T) {
	t.Parallel()

	scans := &fakeScanService{result: scanner.ScanResult{Status: scanner.ScanStatusSuccess}}
	srv := newTestServer(t, scans, nil, nil, testConfig())

	resp := postJSON(t, srv.URL+"/v1/scans/batch", `{"targets": ["a.com", "b.com"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []scanner.ScanResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 2)
	require.Equal(t, "a.com", body.Results[0].Target)
	require.Equal(t, "b.com", body.Results[1].Target)
}

func TestServer_ListResults_QueriesStore(t *testing.T) {
	t.Parallel()

	store := memstore.NewResultStore()
	require.NoError(t, store.InsertResult(context.Background(), scanner.ScanResult{
		ID:     "scan-1",
		Target: "https://example.com",
		Status: scanner.ScanStatusSuccess,
	}))
	srv := newTestServer(t, &fakeScanService{}, nil, store, testConfig())

	resp, err := http.Get(srv.URL + "/v1/results?target=https://example.com&limit=10")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []scanner.ScanResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	require.Equal(t, "scan-1", body.Results[0].ID)
}

func TestServer_ListResults_RequiresTarget(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeScanService{}, nil, memstore.NewResultStore(), testConfig())

	resp, err := http.Get(srv.URL + "/v1/results")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_MemoryStatus_ReportsTierAndTrend(t *testing.T) {
	t.Parallel()

	memory := &fakeMemoryReporter{
		tier: memguard.TierWarning,
		trend: []scanner.MemorySample{
			{Percent: 64.0},
			{Percent: 72.5},
		},
	}
	srv := newTestServer(t, &fakeScanService{}, memory, nil, testConfig())

	resp, err := http.Get(srv.URL + "/v1/memory")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "warning", body["tier"])
	require.InDelta(t, 72.5, body["current_percent"], 1e-9)
}

func TestServer_Readyz_FailsUnderEmergencyPressure(t *testing.T) {
	t.Parallel()

	memory := &fakeMemoryReporter{tier: memguard.TierEmergency}
	srv := newTestServer(t, &fakeScanService{}, memory, nil, testConfig())

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	healthy, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	t.Cleanup(func() { healthy.Body.Close() })
	require.Equal(t, http.StatusOK, healthy.StatusCode)
}

func TestServer_APIKeyMiddleware_RejectsMissingKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := newTestServer(t, &fakeScanService{result: scanner.ScanResult{Status: scanner.ScanStatusSuccess}}, nil, nil, cfg)

	resp := postJSON(t, srv.URL+"/v1/scans", `{"target": "example.com"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/scans", bytes.NewReader([]byte(`{"target": "example.com"}`)))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { authed.Body.Close() })
	require.Equal(t, http.StatusOK, authed.StatusCode)
}
