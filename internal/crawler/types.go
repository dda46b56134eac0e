package crawler

import (
	"fmt"
	"time"
)

// ContentType classifies a fetched payload.
type ContentType string

// Supported content classifications.
const (
	ContentHTML    ContentType = "html"
	ContentPDF     ContentType = "pdf"
	ContentUnknown ContentType = "unknown"
)

// Language tags understood by the chunker and extractors.
type Language string

// Supported languages. Anything else is chunked with the English rules.
const (
	LangJA Language = "ja"
	LangEN Language = "en"
	LangZH Language = "zh"
)

// SourceType describes who publishes a source.
type SourceType string

// Source publisher categories.
const (
	SourceOfficial     SourceType = "official"
	SourceOrganization SourceType = "organization"
	SourceEducation    SourceType = "education"
)

// AuthConfig carries per-source credentials injected into every request.
type AuthConfig struct {
	Cookies       map[string]string `json:"cookies,omitempty" mapstructure:"cookies"`
	Authorization string            `json:"authorization,omitempty" mapstructure:"authorization"`
	Headers       map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// SourceConfig describes one crawlable source. It is not mutated during a run.
type SourceConfig struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Type     SourceType  `json:"type"`
	Lang     Language    `json:"lang"`
	Version  string      `json:"version"`
	Seeds    []string    `json:"seeds"`
	Include  []string    `json:"include,omitempty"`
	Exclude  []string    `json:"exclude,omitempty"`
	MaxDepth int         `json:"maxDepth"`
	MaxPages int         `json:"maxPages"`
	Auth     *AuthConfig `json:"auth,omitempty"`
}

// CrawlTask is one URL waiting to be fetched. Priority equals discovery depth.
type CrawlTask struct {
	URL      string
	SourceID string
	Priority int
	Auth     *AuthConfig
}

// CrawlResult is the terminal outcome of fetching one task.
type CrawlResult struct {
	// URL is the final URL after redirects.
	URL string
	// RequestURL is the URL that was scheduled.
	RequestURL  string
	SourceID    string
	Depth       int
	StatusCode  int
	ContentType ContentType
	Payload     []byte
	FetchedAt   time.Time
	Duration    time.Duration
	Err         error
}

// OK reports whether the fetch produced a usable 2xx payload.
func (r CrawlResult) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ExtractedDocument is the normalized text form of one fetched page.
type ExtractedDocument struct {
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Content  string         `json:"content"`
	Lang     Language       `json:"lang"`
	SourceID string         `json:"sourceId"`
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
