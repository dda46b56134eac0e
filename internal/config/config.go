// Package config loads and validates datapull configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/datapull/internal/chunker"
	"github.com/JakeFAU/datapull/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Chunker ChunkerConfig `mapstructure:"chunker"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Storage StorageConfig `mapstructure:"storage"`
	OpLog   OpLogConfig   `mapstructure:"oplog"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sources []SourceEntry `mapstructure:"sources"`
}

// ServerConfig controls the HTTP surface of `datapull serve`.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required as X-API-Key on /v1 routes.
	APIKey string `mapstructure:"api_key"`
}

// CrawlerConfig governs fetching and scheduling.
type CrawlerConfig struct {
	Concurrency          int    `mapstructure:"concurrency"`
	IntervalMs           int    `mapstructure:"interval_ms"`
	UserAgent            string `mapstructure:"user_agent"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	MaxRedirects         int    `mapstructure:"max_redirects"`
	RespectRobots        bool   `mapstructure:"respect_robots"`
	RobotsTimeoutSeconds int    `mapstructure:"robots_timeout_seconds"`
	ProgressEvery        int    `mapstructure:"progress_every"`
	MaxBodyBytes         int    `mapstructure:"max_body_bytes"`
}

// ChunkerConfig sets the chunk size bounds. MinChars is also the review
// gate for extracted documents.
type ChunkerConfig struct {
	MinChars     int `mapstructure:"min_chars"`
	MaxChars     int `mapstructure:"max_chars"`
	OverlapChars int `mapstructure:"overlap_chars"`
}

// Bounds converts the chunker section into chunker sizes.
func (c ChunkerConfig) Bounds() chunker.Config {
	return chunker.Config{Min: c.MinChars, Max: c.MaxChars, Overlap: c.OverlapChars}
}

// IngestConfig configures the remote content store client.
type IngestConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Token            string `mapstructure:"token"`
	BatchSize        int    `mapstructure:"batch_size"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	InitialBackoffMs int    `mapstructure:"initial_backoff_ms"`
	CrawlerVersion   string `mapstructure:"crawler_version"`
}

// StorageConfig sets where snapshots and raw payloads live.
type StorageConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	SyncWrites      bool   `mapstructure:"sync_writes"`
	FlushIntervalMs int    `mapstructure:"flush_interval_ms"`
	SnapshotBackend string `mapstructure:"snapshot_backend"`
	ArchiveBackend  string `mapstructure:"archive"`
	ArchiveDir      string `mapstructure:"archive_dir"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

// OpLogConfig selects the operation log backend.
type OpLogConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Table   string `mapstructure:"table"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the optional event fan-out topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig tunes the event hub.
type EventsConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	MaxBatchEvents   int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int `mapstructure:"max_batch_wait_ms"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceEntry is a source as written in the config file. Depth and page
// limits are pointers so that an explicit zero depth survives defaults.
type SourceEntry struct {
	ID       string              `mapstructure:"id"`
	Title    string              `mapstructure:"title"`
	Type     string              `mapstructure:"type"`
	Lang     string              `mapstructure:"lang"`
	Version  string              `mapstructure:"version"`
	Seeds    []string            `mapstructure:"seeds"`
	Include  []string            `mapstructure:"include"`
	Exclude  []string            `mapstructure:"exclude"`
	MaxDepth *int                `mapstructure:"max_depth"`
	MaxPages *int                `mapstructure:"max_pages"`
	Auth     *crawler.AuthConfig `mapstructure:"auth"`
}

// Source converts the entry, applying defaults.
func (e SourceEntry) Source() crawler.SourceConfig {
	src := crawler.SourceConfig{
		ID:       e.ID,
		Title:    e.Title,
		Type:     crawler.SourceType(e.Type),
		Lang:     crawler.Language(e.Lang),
		Version:  e.Version,
		Seeds:    e.Seeds,
		Include:  e.Include,
		Exclude:  e.Exclude,
		MaxDepth: crawler.DefaultMaxDepth,
		MaxPages: crawler.DefaultMaxPages,
		Auth:     e.Auth,
	}
	if e.MaxDepth != nil {
		src.MaxDepth = *e.MaxDepth
	}
	if e.MaxPages != nil {
		src.MaxPages = *e.MaxPages
	}
	src.ApplyDefaults()
	return src
}

// Backends.
const (
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Load builds a Config from an optional YAML file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DATAPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.interval_ms", 500)
	v.SetDefault("crawler.user_agent", "Datapull/1.0 (+https://github.com/datapull/crawler)")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_timeout_seconds", 5)
	v.SetDefault("crawler.progress_every", 10)
	v.SetDefault("crawler.max_body_bytes", 20<<20)
	v.SetDefault("chunker.min_chars", 100)
	v.SetDefault("chunker.max_chars", 800)
	v.SetDefault("chunker.overlap_chars", 50)
	v.SetDefault("ingest.base_url", "http://localhost:8789/api/v1/rag")
	v.SetDefault("ingest.token", "")
	v.SetDefault("ingest.batch_size", 100)
	v.SetDefault("ingest.timeout_seconds", 30)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.initial_backoff_ms", 1000)
	v.SetDefault("ingest.crawler_version", "1.0.0")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("storage.flush_interval_ms", 1000)
	v.SetDefault("storage.snapshot_backend", BackendLocal)
	v.SetDefault("storage.archive", BackendNone)
	v.SetDefault("storage.archive_dir", "data/raw")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("oplog.backend", BackendFile)
	v.SetDefault("oplog.dir", "logs/operations")
	v.SetDefault("oplog.table", "upload_operations")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.max_batch_wait_ms", 200)
	v.SetDefault("events.heartbeat_seconds", 30)
	v.SetDefault("logging.development", true)
}

// bindLegacyEnv accepts the older ingest variable names after the
// DATAPULL_ ones.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("ingest.base_url", "DATAPULL_INGEST_BASE_URL", "DRIVEQUIZ_API_URL"); err != nil {
		return fmt.Errorf("bind ingest.base_url: %w", err)
	}
	if err := v.BindEnv("ingest.token", "DATAPULL_INGEST_TOKEN", "DRIVEQUIZ_API_TOKEN"); err != nil {
		return fmt.Errorf("bind ingest.token: %w", err)
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0"))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("crawler.concurrency must be > 0"))
	}
	if c.Crawler.IntervalMs < 0 {
		errs = append(errs, fmt.Errorf("crawler.interval_ms must be >= 0"))
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("crawler.timeout_seconds must be > 0"))
	}
	if err := c.Chunker.Bounds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunker: %w", err))
	}
	if strings.TrimSpace(c.Ingest.BaseURL) == "" {
		errs = append(errs, fmt.Errorf("ingest.base_url is required"))
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be within 1..100"))
	}
	if c.Ingest.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_attempts must be > 0"))
	}
	switch c.Storage.SnapshotBackend {
	case BackendLocal:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for gcs snapshots"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.snapshot_backend %q is not supported", c.Storage.SnapshotBackend))
	}
	switch c.Storage.ArchiveBackend {
	case BackendNone, BackendLocal:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.archive %q is not supported", c.Storage.ArchiveBackend))
	}
	switch c.OpLog.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, fmt.Errorf("db.dsn is required for the postgres operation log"))
		}
	default:
		errs = append(errs, fmt.Errorf("oplog.backend %q is not supported", c.OpLog.Backend))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together"))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, entry := range c.Sources {
		src := entry.Source()
		if err := src.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[src.ID] {
			errs = append(errs, fmt.Errorf("%w: duplicate source id %q", crawler.ErrInvalidSource, src.ID))
		}
		seen[src.ID] = true
	}
	return errors.Join(errs...)
}

// SourceConfigs returns every configured source with defaults applied.
func (c Config) SourceConfigs() []crawler.SourceConfig {
	out := make([]crawler.SourceConfig, len(c.Sources))
	for i, e := range c.Sources {
		out[i] = e.Source()
	}
	return out
}

// Source looks up a configured source by id.
func (c Config) Source(id string) (crawler.SourceConfig, bool) {
	for _, e := range c.Sources {
		if e.ID == id {
			return e.Source(), true
		}
	}
	return crawler.SourceConfig{}, false
}

// Interval is the minimum spacing between fetch starts.
func (c CrawlerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Timeout is the per-request fetch timeout.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RobotsTimeout bounds robots.txt fetches.
func (c CrawlerConfig) RobotsTimeout() time.Duration {
	return time.Duration(c.RobotsTimeoutSeconds) * time.Second
}

// Timeout is the per-request ingest timeout.
func (c IngestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InitialBackoff is the first retry delay.
func (c IngestConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// FlushInterval is the snapshot coalescing window.
func (c StorageConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// MaxBatchWait is the event hub flush interval.
func (c EventsConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// Heartbeat is the heartbeat interval.
func (c EventsConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
