package ingest

import (
	"time"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// DocMeta is the per-document metadata sent to the ingest service.
type DocMeta struct {
	SourceID    string `json:"sourceId"`
	ContentHash string `json:"contentHash"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// Doc is one chunk in wire form.
type Doc struct {
	Title   string           `json:"title"`
	Content string           `json:"content"`
	URL     string           `json:"url"`
	Lang    crawler.Language `json:"lang"`
	Version string           `json:"version"`
	Meta    DocMeta          `json:"meta"`
}

// BatchMetadata describes a batch for the ingest service's audit trail.
type BatchMetadata struct {
	TotalDocs      int       `json:"totalDocs"`
	CrawledAt      time.Time `json:"crawledAt"`
	CrawlerVersion string    `json:"crawlerVersion"`
}

// BatchRequest is the body of POST /docs/batch.
type BatchRequest struct {
	Docs          []Doc         `json:"docs"`
	SourceID      string        `json:"sourceId"`
	BatchMetadata BatchMetadata `json:"batchMetadata"`
}

// ItemError explains a failed item.
type ItemError struct {
	Code    crawler.Code `json:"code"`
	Message string       `json:"message"`
}

// Item outcome values.
const (
	ItemSuccess   = "success"
	ItemFailed    = "failed"
	ItemDuplicate = "duplicate"
)

// ItemResult is the outcome for one document. Index is relative to the
// request it was reported for.
type ItemResult struct {
	Index  int        `json:"index"`
	Status string     `json:"status"`
	DocID  string     `json:"docId,omitempty"`
	Error  *ItemError `json:"error,omitempty"`
}

// BatchResponse is the decoded success body of POST /docs/batch.
type BatchResponse struct {
	Processed   int          `json:"processed"`
	Failed      int          `json:"failed"`
	OperationID string       `json:"operationId"`
	Results     []ItemResult `json:"results"`
}
