package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/datapull/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoadWithFileOverrides verifies YAML values override defaults.
func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  api_key: secret
crawler:
  concurrency: 3
  interval_ms: 250
  respect_robots: false
ingest:
  base_url: https://quiz.example.com/api/v1/rag
  token: tok
storage:
  data_dir: /var/lib/datapull
  archive: local
logging:
  development: false
sources:
  - id: mlit
    title: MLIT road rules
    type: official
    lang: ja
    seeds: ["https://www.mlit.go.jp/road/"]
    include: ["/road/"]
    max_depth: 0
    max_pages: 10
  - id: jaf
    type: organization
    seeds: ["https://jaf.or.jp/"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 3, cfg.Crawler.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.Interval())
	assert.False(t, cfg.Crawler.RespectRobots)
	assert.Equal(t, "https://quiz.example.com/api/v1/rag", cfg.Ingest.BaseURL)
	assert.Equal(t, "tok", cfg.Ingest.Token)
	assert.Equal(t, BackendLocal, cfg.Storage.ArchiveBackend)
	assert.False(t, cfg.Logging.Development)

	sources := cfg.SourceConfigs()
	require.Len(t, sources, 2)
	assert.Equal(t, 0, sources[0].MaxDepth, "explicit zero depth is kept")
	assert.Equal(t, 10, sources[0].MaxPages)
	assert.Equal(t, crawler.DefaultMaxDepth, sources[1].MaxDepth)
	assert.Equal(t, crawler.DefaultMaxPages, sources[1].MaxPages)
	assert.Equal(t, crawler.LangJA, sources[1].Lang)
	assert.Equal(t, crawler.DefaultVersion, sources[1].Version)
	assert.Equal(t, "jaf", sources[1].Title)

	src, ok := cfg.Source("mlit")
	require.True(t, ok)
	assert.Equal(t, "MLIT road rules", src.Title)
	_, ok = cfg.Source("missing")
	assert.False(t, ok)
}

// TestLoadDefaults verifies defaults without a config file.
func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Crawler.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawler.Interval())
	assert.Equal(t, 30*time.Second, cfg.Crawler.Timeout())
	assert.True(t, cfg.Crawler.RespectRobots)
	assert.Equal(t, 100, cfg.Chunker.MinChars)
	assert.Equal(t, 800, cfg.Chunker.MaxChars)
	assert.Equal(t, 50, cfg.Chunker.OverlapChars)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Ingest.InitialBackoff())
	assert.Equal(t, BackendFile, cfg.OpLog.Backend)
	assert.Equal(t, BackendNone, cfg.Storage.ArchiveBackend)
	assert.Equal(t, 4096, cfg.Events.BufferSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Events.MaxBatchWait())
	assert.Equal(t, 30*time.Second, cfg.Events.Heartbeat())
	assert.Empty(t, cfg.Sources)
}

// TestLoadLegacyEnvAliases verifies the older ingest variables are honored.
func TestLoadLegacyEnvAliases(t *testing.T) {
	t.Setenv("DRIVEQUIZ_API_URL", "https://legacy.example.com/rag")
	t.Setenv("DRIVEQUIZ_API_TOKEN", "legacy-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.com/rag", cfg.Ingest.BaseURL)
	assert.Equal(t, "legacy-token", cfg.Ingest.Token)
}

// TestLoadPrefixedEnvWins verifies DATAPULL_ variables take precedence.
func TestLoadPrefixedEnvWins(t *testing.T) {
	t.Setenv("DRIVEQUIZ_API_URL", "https://legacy.example.com/rag")
	t.Setenv("DATAPULL_INGEST_BASE_URL", "https://new.example.com/rag")
	t.Setenv("DATAPULL_CRAWLER_CONCURRENCY", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/rag", cfg.Ingest.BaseURL)
	assert.Equal(t, 9, cfg.Crawler.Concurrency)
}

// TestLoadRejectsInvalidSources verifies source validation surfaces through Load.
func TestLoadRejectsInvalidSources(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad seed": `
sources:
  - id: bad
    seeds: ["ftp://example.com/"]
`,
		"depth too deep": `
sources:
  - id: deep
    seeds: ["https://example.com/"]
    max_depth: 11
`,
		"duplicate ids": `
sources:
  - id: twin
    seeds: ["https://example.com/a"]
  - id: twin
    seeds: ["https://example.com/b"]
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, body))
			require.ErrorIs(t, err, crawler.ErrInvalidSource)
		})
	}
}

// TestValidateBackends verifies backend dependencies are enforced.
func TestValidateBackends(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	gcs := base
	gcs.Storage.ArchiveBackend = BackendGCS
	assert.ErrorContains(t, gcs.Validate(), "storage.bucket")

	pg := base
	pg.OpLog.Backend = BackendPostgres
	assert.ErrorContains(t, pg.Validate(), "db.dsn")

	ps := base
	ps.PubSub.ProjectID = "proj"
	assert.ErrorContains(t, ps.Validate(), "pubsub")

	unknown := base
	unknown.Storage.SnapshotBackend = "s3"
	assert.ErrorContains(t, unknown.Validate(), "snapshot_backend")

	batch := base
	batch.Ingest.BatchSize = 101
	assert.ErrorContains(t, batch.Validate(), "batch_size")
}

// TestValidateChunkerBounds verifies chunk sizes are checked and converted.
func TestValidateChunkerBounds(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	custom := base
	custom.Chunker = ChunkerConfig{MinChars: 50, MaxChars: 200, OverlapChars: 10}
	require.NoError(t, custom.Validate())
	assert.Equal(t, 200, custom.Chunker.Bounds().Max)
	assert.Equal(t, 10, custom.Chunker.Bounds().Overlap)

	narrow := base
	narrow.Chunker.MaxChars = 150
	assert.ErrorContains(t, narrow.Validate(), "chunker")

	overlap := base
	overlap.Chunker.OverlapChars = 100
	assert.ErrorContains(t, overlap.Validate(), "chunker")
}

// TestLoadMissingFile verifies a missing explicit path is an error.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
