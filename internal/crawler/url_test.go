package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNormalizeURL covers the canonical forms used as visited-set keys.
func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase host", in: "HTTPS://Example.COM/Docs", want: "https://example.com/Docs"},
		{name: "default port", in: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "fragment dropped", in: "https://example.com/a#top", want: "https://example.com/a"},
		{name: "empty path", in: "https://example.com", want: "https://example.com/"},
		{name: "query sorted", in: "https://example.com/s?b=2&a=1", want: "https://example.com/s?a=1&b=2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestNormalizeURLRejectsRelative ensures relative references never enter the visited set.
func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/relative/path")
	require.Error(t, err)
}

// TestSameHost ignores case and port differences.
func TestSameHost(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("https://Example.com/a", "http://example.com:8080/b"))
	require.False(t, SameHost("https://example.com/a", "https://other.example.com/a"))
}
