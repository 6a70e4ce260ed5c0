package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

func TestHTTPProvider_Classify_SendsContentAndAuth(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"compliant": true, "confidence": 0.97}`))
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(HTTPProviderConfig{
		Name:     "primary",
		Method:   scanner.MethodPrimaryAPI,
		Endpoint: srv.URL,
		APIKey:   "secret",
	}, srv.Client())

	verdict, err := p.Classify(context.Background(), scanner.Content{Text: "some text"})
	require.NoError(t, err)
	require.True(t, verdict.Compliant)
	require.InDelta(t, 0.97, verdict.Confidence, 1e-9)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "some text", gotBody.Text)
	require.Empty(t, gotBody.ImageURL)
}

func TestHTTPProvider_Classify_ViolationsForceNonCompliant(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"compliant": true,
			"violations": [
				{"type": "gambling", "keyword": "casino", "confidence": 0.85},
				{"type": "adult", "keyword": "explicit", "confidence": 0.91}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(HTTPProviderConfig{Name: "primary", Endpoint: srv.URL}, srv.Client())

	verdict, err := p.Classify(context.Background(), scanner.Content{Text: "x"})
	require.NoError(t, err)
	require.False(t, verdict.Compliant, "violations override a compliant flag")
	require.Len(t, verdict.Violations, 2)
	require.InDelta(t, 0.91, verdict.Confidence, 1e-9, "confidence backfills from the strongest violation")
}

func TestHTTPProvider_Classify_Non2xxIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(HTTPProviderConfig{Name: "primary", Endpoint: srv.URL}, srv.Client())

	_, err := p.Classify(context.Background(), scanner.Content{Text: "x"})
	require.ErrorIs(t, err, scanner.ErrProviderUnavailable)
}

func TestHTTPProvider_Classify_TransportErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := srv.Client()
	srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "primary", Endpoint: srv.URL}, client)

	_, err := p.Classify(context.Background(), scanner.Content{Text: "x"})
	require.ErrorIs(t, err, scanner.ErrProviderUnavailable)
}

func TestHTTPProvider_Classify_MalformedBodyErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(HTTPProviderConfig{Name: "primary", Endpoint: srv.URL}, srv.Client())

	_, err := p.Classify(context.Background(), scanner.Content{Text: "x"})
	require.Error(t, err)
	require.NotErrorIs(t, err, scanner.ErrProviderUnavailable)
}
