package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSourceValidate checks defaults and the documented limits.
func TestSourceValidate(t *testing.T) {
	t.Parallel()

	src := SourceConfig{ID: "mlit", Seeds: []string{"https://example.com/"}, MaxDepth: 2, MaxPages: 50}
	src.ApplyDefaults()
	require.NoError(t, src.Validate())
	require.Equal(t, LangJA, src.Lang)
	require.Equal(t, SourceOfficial, src.Type)
	require.Equal(t, DefaultVersion, src.Version)

	bad := src
	bad.MaxPages = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidSource)

	bad = src
	bad.MaxDepth = 11
	require.ErrorIs(t, bad.Validate(), ErrInvalidSource)

	bad = src
	bad.Seeds = []string{"ftp://example.com"}
	require.ErrorIs(t, bad.Validate(), ErrInvalidSource)

	bad = src
	bad.ID = "Bad ID"
	require.ErrorIs(t, bad.Validate(), ErrInvalidSource)
}
