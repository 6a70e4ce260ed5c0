package crawl

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestCapText_TruncatesAtLimit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 100)
	capped := CapText(text, 40)

	require.Len(t, capped, 40)
	require.Equal(t, text[:40], capped)
}

func TestCapText_ShortTextUnchanged(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello", CapText("hello", 40))
	require.Equal(t, "hello", CapText("hello", 5))
}

func TestCapText_NeverSplitsARune(t *testing.T) {
	t.Parallel()

	// Three bytes per rune; a ten byte cap falls inside the fourth rune and
	// must back off to the previous boundary.
	text := strings.Repeat("界", 20)
	capped := CapText(text, 10)

	require.True(t, utf8.ValidString(capped))
	require.Len(t, capped, 9)
	require.Equal(t, strings.Repeat("界", 3), capped)

	// A cap landing exactly on a boundary is kept as-is.
	require.Equal(t, strings.Repeat("界", 4), CapText(text, 12))
}

func TestCapText_ZeroLimitDisablesCap(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("b", 100)
	require.Equal(t, text, CapText(text, 0))
	require.Equal(t, text, CapText(text, -1))
}

func TestCapImages_KeepsFirstN(t *testing.T) {
	t.Parallel()

	images := []string{"a.png", "b.png", "c.png", "d.png"}
	capped := CapImages(images, 2)

	require.Equal(t, []string{"a.png", "b.png"}, capped)
}

func TestCapImages_UnderLimitUnchanged(t *testing.T) {
	t.Parallel()

	images := []string{"a.png"}
	require.Equal(t, images, CapImages(images, 5))
	require.Equal(t, images, CapImages(images, 0))
}
