package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestSanitizeSite reduces URLs to a lowercase host label.
func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

// TestObserveFetchCountsPages checks collectors are lazily initialized.
func TestObserveFetchCountsPages(t *testing.T) {
	ObserveFetch("https://metrics-test.example/a", "200", 42)
	ObserveFetch("https://metrics-test.example/b", "200", 0)

	require.InDelta(t, 2, testutil.ToFloat64(fetchPagesTotal.WithLabelValues("metrics-test.example", "200")), 0)
	require.InDelta(t, 42, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test.example")), 0)
}

// FuzzSanitizeSite never returns an empty label.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
