package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  string
	}{
		{"https://Example.COM/path?q=1", "example.com"},
		{"http://sub.example.com", "sub.example.com"},
		{"example.com", "example.com"},
		{"example.com:8080/landing", "example.com"},
		{"", "unknown"},
		{"http://", "unknown"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, SanitizeSite(tc.input), "input %q", tc.input)
	}
}
