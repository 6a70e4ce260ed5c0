package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

func TestNormalizeTarget(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"example.com":          "https://example.com",
		"  example.com  ":      "https://example.com",
		"http://example.com":   "http://example.com",
		"https://example.com":  "https://example.com",
		"sub.example.com/path": "https://sub.example.com/path",
	}
	for input, want := range cases {
		require.Equal(t, want, NormalizeTarget(input), "input %q", input)
	}
}

func TestWorker_ClassifyNavError_CallerCancelWins(t *testing.T) {
	t.Parallel()

	w := NewWorker(Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	navCtx, navCancel := context.WithTimeout(context.Background(), time.Minute)
	defer navCancel()

	err := w.classifyNavError(ctx, navCtx, "https://example.com", stateNavigating, errors.New("net::ERR_ABORTED"))
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, scanner.ErrNavigationTimedOut)
}

func TestWorker_ClassifyNavError_AttemptDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	w := NewWorker(Config{}, zap.NewNop())

	navCtx, navCancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer navCancel()
	<-navCtx.Done()

	err := w.classifyNavError(context.Background(), navCtx, "https://example.com", stateNavigating, context.DeadlineExceeded)
	require.ErrorIs(t, err, scanner.ErrNavigationTimedOut)
}

func TestWorker_ClassifyNavError_OtherFailuresAreNavigationFailed(t *testing.T) {
	t.Parallel()

	w := NewWorker(Config{}, zap.NewNop())

	navCtx, navCancel := context.WithTimeout(context.Background(), time.Minute)
	defer navCancel()

	err := w.classifyNavError(context.Background(), navCtx, "https://example.com", stateExtracting, errors.New("net::ERR_NAME_NOT_RESOLVED"))
	require.ErrorIs(t, err, scanner.ErrNavigationFailed)
}

func TestWorker_ProfilesReflectConfig(t *testing.T) {
	t.Parallel()

	w := NewWorker(Config{
		NavigationTimeout: 20 * time.Second,
		SettleDelay:       time.Second,
		TextCap:           5000,
		ImageCap:          3,
		DegradedTimeout:   8 * time.Second,
		DegradedTextCap:   800,
	}, zap.NewNop())

	full := w.fullProfile()
	require.Equal(t, 20*time.Second, full.navTimeout)
	require.Equal(t, time.Second, full.settle)
	require.Equal(t, 5000, full.textCap)
	require.True(t, full.scroll)
	require.False(t, full.degraded)

	degraded := w.degradedProfile()
	require.Equal(t, 8*time.Second, degraded.navTimeout)
	require.Equal(t, 800, degraded.textCap)
	require.True(t, degraded.degraded)
}
