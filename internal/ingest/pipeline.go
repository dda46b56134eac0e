package ingest

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/metrics"
)

// Uploader sends one batch to the remote store. *Client implements it.
type Uploader interface {
	UploadBatch(ctx context.Context, req BatchRequest) (BatchResponse, error)
}

// Pipeline defaults.
const (
	DefaultBatchSize      = 100
	DefaultCrawlerVersion = "1.0.0"
	maxTitleLen           = 500
)

// PipelineConfig tunes batching.
type PipelineConfig struct {
	BatchSize      int
	CrawlerVersion string
}

// Result is the aggregate outcome of one pipeline run. Result indexes are
// positions in the input slice.
type Result struct {
	Success     bool         `json:"success"`
	OperationID string       `json:"operationId"`
	Processed   int          `json:"processed"`
	Failed      int          `json:"failed"`
	Results     []ItemResult `json:"results"`
}

// Pipeline partitions documents into batches and uploads them in order.
type Pipeline struct {
	uploader Uploader
	clock    crawler.Clock
	cfg      PipelineConfig
	logger   *zap.Logger
}

// NewPipeline builds a pipeline.
func NewPipeline(uploader Uploader, clock crawler.Clock, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CrawlerVersion == "" {
		cfg.CrawlerVersion = DefaultCrawlerVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{uploader: uploader, clock: clock, cfg: cfg, logger: logger.Named("ingest_pipeline")}
}

// Upload sends docs for one source and version. A batch that fails after
// retries marks each of its documents failed and later batches still run.
func (p *Pipeline) Upload(ctx context.Context, docs []Doc, sourceID, version string) Result {
	res := Result{Results: make([]ItemResult, 0, len(docs))}
	totalBatches := (len(docs) + p.cfg.BatchSize - 1) / p.cfg.BatchSize

	for start := 0; start < len(docs); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(docs))
		batch := make([]Doc, end-start)
		copy(batch, docs[start:end])
		for i := range batch {
			batch[i].Version = version
		}
		batchNo := start/p.cfg.BatchSize + 1
		log := p.logger.With(
			zap.String("source_id", sourceID),
			zap.Int("batch", batchNo),
			zap.Int("batches", totalBatches),
			zap.Int("docs", len(batch)))

		resp, err := p.uploader.UploadBatch(ctx, BatchRequest{
			Docs:     batch,
			SourceID: sourceID,
			BatchMetadata: BatchMetadata{
				TotalDocs:      len(batch),
				CrawledAt:      p.clock.Now(),
				CrawlerVersion: p.cfg.CrawlerVersion,
			},
		})
		if err != nil {
			log.Error("ingest batch failed", zap.Error(err))
			metrics.ObserveUploadBatch("error")
			code := batchErrorCode(err)
			for i := range batch {
				res.Results = append(res.Results, ItemResult{
					Index:  start + i,
					Status: ItemFailed,
					Error:  &ItemError{Code: code, Message: err.Error()},
				})
			}
			res.Failed += len(batch)
			continue
		}

		metrics.ObserveUploadBatch("ok")
		res.Processed += resp.Processed
		res.Failed += resp.Failed
		if res.OperationID == "" && resp.OperationID != "" {
			res.OperationID = resp.OperationID
		}
		res.Results = append(res.Results, completeResults(resp, len(batch), start)...)
		log.Info("ingest batch done", zap.Int("processed", resp.Processed), zap.Int("failed", resp.Failed))
	}

	res.Success = res.Failed == 0
	return res
}

// batchErrorCode keeps terminal client codes and reports everything else
// as a batch error.
func batchErrorCode(err error) crawler.Code {
	switch {
	case errors.Is(err, ErrValidation):
		return crawler.CodeValidation
	case errors.Is(err, ErrUnauthorized):
		return crawler.CodeAuthFailed
	default:
		return crawler.CodeBatchError
	}
}

// completeResults shifts reported results to input positions and fills in
// items the server did not report. Unreported items count as successes only
// when the reported failures already account for the batch's failed count.
func completeResults(resp BatchResponse, size, offset int) []ItemResult {
	out := make([]ItemResult, size)
	seen := make([]bool, size)
	reportedFailures := 0
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= size {
			continue
		}
		r.Index += offset
		out[r.Index-offset] = r
		seen[r.Index-offset] = true
		if r.Status != ItemSuccess {
			reportedFailures++
		}
	}
	fillStatus := ItemSuccess
	var fillErr *ItemError
	if reportedFailures < resp.Failed {
		fillStatus = ItemFailed
		fillErr = &ItemError{Code: crawler.CodeBatchError, Message: "no result reported for document"}
	}
	for i := range out {
		if !seen[i] {
			out[i] = ItemResult{Index: offset + i, Status: fillStatus, Error: fillErr}
		}
	}
	return out
}

// TitleFor returns the stored title, or the last path segment of the URL,
// or its host, truncated to the ingest limit.
func TitleFor(title, rawURL string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = rawURL
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			title = u.Hostname()
			if base := path.Base(strings.TrimRight(u.Path, "/")); base != "." && base != "/" && base != "" {
				title = base
			}
		}
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen])
	}
	return title
}
