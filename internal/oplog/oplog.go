// Package oplog records the lifecycle of upload operations: one record per
// upload, created as processing and completed exactly once.
package oplog

import (
	"context"
	"time"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// Status is an operation's lifecycle state.
type Status string

// Operation states.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Metadata describes what was uploaded.
type Metadata struct {
	Version        string           `json:"version"`
	Lang           crawler.Language `json:"lang"`
	CrawlerVersion string           `json:"crawlerVersion"`
}

// Record is one upload operation.
type Record struct {
	OperationID       string     `json:"operationId"`
	RemoteOperationID string     `json:"remoteOperationId,omitempty"`
	SourceID          string     `json:"sourceId"`
	Status            Status     `json:"status"`
	DocsCount         int        `json:"docsCount"`
	FailedCount       int        `json:"failedCount"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Metadata          Metadata   `json:"metadata"`
}

// Completion is the terminal update applied to a processing record.
type Completion struct {
	Status            Status
	DocsCount         int
	FailedCount       int
	RemoteOperationID string
	At                time.Time
}

// Log persists operation records.
type Log interface {
	Start(ctx context.Context, rec Record) error
	Complete(ctx context.Context, operationID string, c Completion) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// Apply returns rec with the completion applied.
func (c Completion) Apply(rec Record) Record {
	rec.Status = c.Status
	rec.DocsCount = c.DocsCount
	rec.FailedCount = c.FailedCount
	if c.RemoteOperationID != "" {
		rec.RemoteOperationID = c.RemoteOperationID
	}
	at := c.At
	rec.CompletedAt = &at
	return rec
}
