package classify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// fakeProvider scripts one provider in the chain and records every content
// item it was asked about.
type fakeProvider struct {
	mu      sync.Mutex
	name    string
	method  scanner.DetectionMethod
	verdict scanner.ProviderVerdict
	err     error
	calls   []scanner.Content
}

func (p *fakeProvider) Name() string                    { return p.name }
func (p *fakeProvider) Method() scanner.DetectionMethod { return p.method }

func (p *fakeProvider) Classify(_ context.Context, content scanner.Content) (scanner.ProviderVerdict, error) {
	p.mu.Lock()
	p.calls = append(p.calls, content)
	p.mu.Unlock()
	return p.verdict, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func compliantProvider(name string, method scanner.DetectionMethod) *fakeProvider {
	return &fakeProvider{
		name:    name,
		method:  method,
		verdict: scanner.ProviderVerdict{Compliant: true, Confidence: 0.95},
	}
}

func failingProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:   name,
		method: scanner.MethodPrimaryAPI,
		err:    errors.New("upstream unavailable"),
	}
}

func TestChain_Classify_FirstProviderWins(t *testing.T) {
	t.Parallel()

	primary := compliantProvider("primary", scanner.MethodPrimaryAPI)
	secondary := compliantProvider("secondary", scanner.MethodSecondaryAPI)
	chain := NewChain(DefaultConfig(), []scanner.Provider{primary, secondary}, zap.NewNop())

	verdict := chain.Classify(context.Background(), scanner.PageContent{Text: "hello"})

	require.True(t, verdict.Compliant)
	require.Equal(t, scanner.MethodPrimaryAPI, verdict.Method)
	require.Equal(t, 1, primary.callCount())
	require.Equal(t, 0, secondary.callCount())
}

func TestChain_Classify_FallsBackOnProviderError(t *testing.T) {
	t.Parallel()

	primary := failingProvider("primary")
	local := NewLocalProvider(nil)
	chain := NewChain(DefaultConfig(), []scanner.Provider{primary, local}, zap.NewNop())

	verdict := chain.Classify(context.Background(), scanner.PageContent{
		Text: "a page about online casino bonuses",
	})

	require.False(t, verdict.Compliant)
	require.Equal(t, scanner.MethodLocalHeuristic, verdict.Method)
	require.Equal(t, 1, primary.callCount(), "failed provider must not be retried for the same item")
}

func TestChain_Classify_ImagesMergeIntoVerdict(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{name: "primary", method: scanner.MethodPrimaryAPI}
	provider.verdict = scanner.ProviderVerdict{Compliant: true, Confidence: 0.9}
	chain := NewChain(DefaultConfig(), []scanner.Provider{provider}, zap.NewNop())

	verdict := chain.Classify(context.Background(), scanner.PageContent{
		Text:   "plain text",
		Images: []string{"https://example.com/a.png", "https://example.com/b.png"},
	})

	require.True(t, verdict.Compliant)
	// One text call plus one per image.
	require.Equal(t, 3, provider.callCount())

	provider.mu.Lock()
	require.Equal(t, "plain text", provider.calls[0].Text)
	require.Equal(t, "https://example.com/a.png", provider.calls[1].ImageURL)
	require.Equal(t, "https://example.com/b.png", provider.calls[2].ImageURL)
	provider.mu.Unlock()
}

func TestChain_Classify_ImageViolationMakesPageNonCompliant(t *testing.T) {
	t.Parallel()

	violation := scanner.Violation{Type: "adult", Keyword: "explicit", Confidence: 0.92}
	provider := &fakeProvider{name: "primary", method: scanner.MethodPrimaryAPI}
	chain := NewChain(DefaultConfig(), []scanner.Provider{provider}, zap.NewNop())

	// Text passes, image fails.
	provider.verdict = scanner.ProviderVerdict{Compliant: true, Confidence: 0.9}
	clean := chain.Classify(context.Background(), scanner.PageContent{Text: "ok"})
	require.True(t, clean.Compliant)

	provider.verdict = scanner.ProviderVerdict{
		Compliant:  false,
		Violations: []scanner.Violation{violation},
		Confidence: 0.92,
	}
	flagged := chain.Classify(context.Background(), scanner.PageContent{
		Text:   "ok",
		Images: []string{"https://example.com/a.png"},
	})
	require.False(t, flagged.Compliant)
	require.Contains(t, flagged.Violations, violation)
}

func TestChain_Classify_RiskIsHighestViolation(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		name:   "primary",
		method: scanner.MethodPrimaryAPI,
		verdict: scanner.ProviderVerdict{
			Compliant: false,
			Violations: []scanner.Violation{
				{Type: "gambling", Confidence: 0.72},
				{Type: "adult", Confidence: 0.93},
				{Type: "violence", Confidence: 0.81},
			},
		},
	}
	chain := NewChain(DefaultConfig(), []scanner.Provider{provider}, zap.NewNop())

	verdict := chain.Classify(context.Background(), scanner.PageContent{Text: "x"})
	require.Equal(t, scanner.RiskCritical, verdict.Risk)
}

func TestChain_Classify_AllProvidersFailedFailsOpen(t *testing.T) {
	t.Parallel()

	chain := NewChain(DefaultConfig(), []scanner.Provider{
		failingProvider("primary"),
		failingProvider("secondary"),
	}, zap.NewNop())

	verdict := chain.Classify(context.Background(), scanner.PageContent{Text: "x"})
	require.True(t, verdict.Compliant)
	require.Equal(t, scanner.MethodLocalHeuristic, verdict.Method)
}

func TestChain_Classify_ExpiredContextStillRunsLocalFallback(t *testing.T) {
	t.Parallel()

	remote := compliantProvider("primary", scanner.MethodPrimaryAPI)
	local := NewLocalProvider(nil)
	chain := NewChain(DefaultConfig(), []scanner.Provider{remote, local}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	verdict := chain.Classify(ctx, scanner.PageContent{
		Text: "best online casino betting site",
	})

	// The dead context skips the remote provider but the terminal keyword
	// pass still delivers a real verdict.
	require.Equal(t, 0, remote.callCount())
	require.False(t, verdict.Compliant)
	require.Equal(t, scanner.MethodLocalHeuristic, verdict.Method)
	require.Len(t, verdict.Violations, 1)
	require.Equal(t, "gambling", verdict.Violations[0].Type)
}

func TestChain_Classify_ExpiredContextStillClassifiesImages(t *testing.T) {
	t.Parallel()

	local := NewLocalProvider(nil)
	chain := NewChain(DefaultConfig(), []scanner.Provider{local}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	verdict := chain.Classify(ctx, scanner.PageContent{
		Text:   "a plain municipal report",
		Images: []string{"https://example.com/a.png"},
	})

	require.True(t, verdict.Compliant)
	require.Equal(t, scanner.MethodLocalHeuristic, verdict.Method)
}
