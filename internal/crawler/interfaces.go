package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRobotsDisallowed is returned when robots.txt forbids a URL.
var ErrRobotsDisallowed = errors.New("robots.txt disallows crawling")

// Fetcher resolves one task to a raw payload. Implementations return the
// partially filled result alongside any error so the status code survives.
type Fetcher interface {
	Fetch(ctx context.Context, task CrawlTask) (CrawlResult, error)
}

// ErrObjectNotFound is returned by BlobStore.GetObject for missing paths.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore writes raw artifacts and snapshots and reads them back.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes payloads tagged with a kind to a message bus.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
