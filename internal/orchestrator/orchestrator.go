// Package orchestrator drives breadth-first crawls of configured sources:
// waves of fetches through the scheduler, extraction into the review
// store, and link discovery for the next depth.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/chunker"
	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/discover"
	"github.com/JakeFAU/datapull/internal/extract"
	"github.com/JakeFAU/datapull/internal/progress"
	"github.com/JakeFAU/datapull/internal/review"
	"github.com/JakeFAU/datapull/internal/scheduler"
)

// ErrCrawlRunning is returned when a crawl is requested while one runs.
var ErrCrawlRunning = errors.New("a crawl is already running")

// ReviewSink receives extracted documents.
type ReviewSink interface {
	Add(doc crawler.ExtractedDocument) (review.Record, error)
}

// Config tunes a crawl.
type Config struct {
	Scheduler scheduler.Config
	// MinContentChars is the shortest cleaned text sent to review.
	MinContentChars int
	// ArchivePrefix is the blob path prefix for raw payloads.
	ArchivePrefix string
}

// Deps wires the orchestrator's collaborators. Archive, Hasher and Events
// are optional.
type Deps struct {
	Fetcher crawler.Fetcher
	Clock   crawler.Clock
	Reviews ReviewSink
	Archive crawler.BlobStore
	Hasher  crawler.Hasher
	Events  progress.Emitter
	Logger  *zap.Logger
}

// Summary reports one source's crawl.
type Summary struct {
	SourceID     string `json:"sourceId"`
	TotalFetched int    `json:"totalFetched"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	Documents    int    `json:"documents"`
	SkippedShort int    `json:"skippedShort"`
	DurationMs   int64  `json:"durationMs"`
}

// Orchestrator runs one crawl task at a time.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	sched  *scheduler.Scheduler
	logger *zap.Logger

	stop    atomic.Bool
	depth   atomic.Int64
	fetched atomic.Int64

	mu     sync.Mutex
	status progress.TaskStatus
}

// New builds an orchestrator with its own scheduler.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = chunker.MinSize
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("orchestrator"),
		status: progress.TaskStatus{State: progress.TaskIdle},
	}
	o.sched = scheduler.New(deps.Fetcher, deps.Clock, cfg.Scheduler, deps.Logger.Named("scheduler"),
		scheduler.WithProgress(o.onProgress))
	return o
}

// Status returns the current task status.
func (o *Orchestrator) Status() progress.TaskStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.status
	st.Sources = append([]string(nil), st.Sources...)
	return st
}

// Stop prevents the next wave from starting. Fetches already in flight
// finish.
func (o *Orchestrator) Stop() {
	o.stop.Store(true)
	o.logger.Info("crawl stop requested")
}

// Crawl crawls the sources one after another. Every source is validated
// before any fetch; an invalid source fails the whole request.
func (o *Orchestrator) Crawl(ctx context.Context, sources []crawler.SourceConfig) ([]Summary, error) {
	run, err := o.Begin(sources)
	if err != nil {
		return nil, err
	}
	return run(ctx), nil
}

// Begin validates the sources and claims the crawl slot without fetching.
// The returned func performs the crawl and releases the slot; it must be
// called exactly once.
func (o *Orchestrator) Begin(sources []crawler.SourceConfig) (func(context.Context) []Summary, error) {
	prepared := make([]crawler.SourceConfig, len(sources))
	ids := make([]string, len(sources))
	for i, src := range sources {
		src.ApplyDefaults()
		if err := src.Validate(); err != nil {
			return nil, err
		}
		prepared[i] = src
		ids[i] = src.ID
	}
	if err := o.begin(ids); err != nil {
		return nil, err
	}
	return func(ctx context.Context) []Summary {
		defer o.end()
		out := make([]Summary, 0, len(prepared))
		for _, src := range prepared {
			if o.stop.Load() || ctx.Err() != nil {
				o.logger.Info("crawl stopped before source", zap.String("source_id", src.ID))
				break
			}
			out = append(out, o.crawlSource(ctx, src))
		}
		return out
	}, nil
}

// CrawlSource crawls a single source.
func (o *Orchestrator) CrawlSource(ctx context.Context, src crawler.SourceConfig) (Summary, error) {
	sums, err := o.Crawl(ctx, []crawler.SourceConfig{src})
	if err != nil {
		return Summary{}, err
	}
	if len(sums) == 0 {
		return Summary{SourceID: src.ID}, nil
	}
	return sums[0], nil
}

func (o *Orchestrator) begin(ids []string) error {
	o.mu.Lock()
	if o.status.State == progress.TaskRunning {
		o.mu.Unlock()
		return ErrCrawlRunning
	}
	started := o.deps.Clock.Now()
	o.status = progress.TaskStatus{State: progress.TaskRunning, Sources: ids, StartedAt: &started}
	st := o.status
	o.mu.Unlock()

	o.stop.Store(false)
	o.deps.Events.Emit(progress.New(progress.KindTaskStatus, started, "", st))
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.status = progress.TaskStatus{State: progress.TaskIdle}
	st := o.status
	o.mu.Unlock()
	o.deps.Events.Emit(progress.New(progress.KindTaskStatus, o.deps.Clock.Now(), "", st))
}

func (o *Orchestrator) crawlSource(ctx context.Context, src crawler.SourceConfig) Summary {
	start := o.deps.Clock.Now()
	log := o.logger.With(zap.String("source_id", src.ID))
	sum := Summary{SourceID: src.ID}
	filter := discover.FilterFor(src)
	o.fetched.Store(0)

	visited := make(map[string]bool)
	// handled holds redirect-resolved URLs whose content was already processed.
	handled := make(map[string]bool)
	var frontier []crawler.CrawlTask
	for _, seed := range src.Seeds {
		u, err := crawler.NormalizeURL(seed)
		if err != nil || visited[u] {
			continue
		}
		visited[u] = true
		frontier = append(frontier, crawler.CrawlTask{URL: u, SourceID: src.ID, Priority: 0, Auth: src.Auth})
	}

	log.Info("crawl started", zap.Int("seeds", len(frontier)), zap.Int("max_depth", src.MaxDepth), zap.Int("max_pages", src.MaxPages))
	for depth := 0; len(frontier) > 0 && depth <= src.MaxDepth && sum.TotalFetched < src.MaxPages; depth++ {
		if o.stop.Load() {
			log.Info("crawl stopped", zap.Int("depth", depth))
			break
		}
		if ctx.Err() != nil {
			log.Warn("crawl cancelled", zap.Error(ctx.Err()))
			break
		}
		n := min(src.MaxPages-sum.TotalFetched, len(frontier))
		wave := frontier[:n]
		frontier = frontier[n:]
		o.depth.Store(int64(depth))

		results := o.sched.Run(ctx, wave)
		sum.TotalFetched += len(results)
		o.fetched.Store(int64(sum.TotalFetched))

		var next []crawler.CrawlTask
		for _, res := range results {
			if !res.OK() {
				sum.Failed++
				log.Debug("fetch failed", zap.String("url", res.RequestURL), zap.Int("status", res.StatusCode), zap.Error(res.Err))
				continue
			}
			sum.Succeeded++
			final := res.URL
			if u, err := crawler.NormalizeURL(res.URL); err == nil {
				final = u
				visited[u] = true
			}
			if handled[final] {
				log.Debug("page already ingested", zap.String("url", res.RequestURL), zap.String("final_url", final))
				continue
			}
			handled[final] = true
			o.archive(ctx, src, res)
			o.ingest(src, res, &sum, log)

			if depth >= src.MaxDepth || res.ContentType != crawler.ContentHTML {
				continue
			}
			links, err := discover.Links(res.URL, res.Payload, filter)
			if err != nil {
				log.Debug("link discovery failed", zap.String("url", res.URL), zap.Error(err))
				continue
			}
			for _, link := range links {
				if visited[link] {
					continue
				}
				if sum.TotalFetched+len(frontier)+len(next) >= src.MaxPages {
					break
				}
				visited[link] = true
				next = append(next, crawler.CrawlTask{URL: link, SourceID: src.ID, Priority: depth + 1, Auth: src.Auth})
			}
		}
		frontier = append(frontier, next...)
		log.Info("wave done",
			zap.Int("depth", depth),
			zap.Int("fetched", len(results)),
			zap.Int("queued", len(frontier)))
	}

	sum.DurationMs = o.deps.Clock.Now().Sub(start).Milliseconds()
	log.Info("crawl finished",
		zap.Int("total_fetched", sum.TotalFetched),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("documents", sum.Documents),
		zap.Int("skipped_short", sum.SkippedShort),
		zap.Int64("duration_ms", sum.DurationMs))
	return sum
}

func (o *Orchestrator) ingest(src crawler.SourceConfig, res crawler.CrawlResult, sum *Summary, log *zap.Logger) {
	doc, err := extract.Result(res, src, o.deps.Clock.Now())
	if err != nil {
		log.Warn("extraction failed", zap.String("url", res.URL), zap.Error(err))
		return
	}
	if utf8.RuneCountInString(doc.Content) < o.cfg.MinContentChars {
		sum.SkippedShort++
		return
	}
	if _, err := o.deps.Reviews.Add(doc); err != nil {
		log.Error("add review record", zap.String("url", res.URL), zap.Error(err))
		return
	}
	sum.Documents++
}

// archive stores the raw payload under <prefix>/<sourceId>/<sha256>.<ext>.
// Failures are logged only.
func (o *Orchestrator) archive(ctx context.Context, src crawler.SourceConfig, res crawler.CrawlResult) {
	if o.deps.Archive == nil || o.deps.Hasher == nil {
		return
	}
	hash, err := o.deps.Hasher.Hash(res.Payload)
	if err != nil {
		o.logger.Warn("hash payload", zap.String("url", res.URL), zap.Error(err))
		return
	}
	ext, contentType := archiveFormat(res.ContentType)
	path := archivePath(o.cfg.ArchivePrefix, src.ID, hash, ext)
	if _, err := o.deps.Archive.PutObject(ctx, path, contentType, bytes.NewReader(res.Payload)); err != nil {
		o.logger.Warn("archive payload", zap.String("url", res.URL), zap.String("path", path), zap.Error(err))
	}
}

func archiveFormat(ct crawler.ContentType) (string, string) {
	switch ct {
	case crawler.ContentHTML:
		return "html", "text/html; charset=utf-8"
	case crawler.ContentPDF:
		return "pdf", "application/pdf"
	default:
		return "bin", "application/octet-stream"
	}
}

func archivePath(prefix, sourceID, hash, ext string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.%s", sourceID, hash, ext)
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, sourceID, hash, ext)
}

func (o *Orchestrator) onProgress(p scheduler.Progress) {
	o.deps.Events.Emit(progress.New(progress.KindCrawlProgress, o.deps.Clock.Now(), p.SourceID, progress.CrawlProgress{
		Depth:     int(o.depth.Load()),
		Completed: p.Completed,
		Total:     p.Total,
		Fetched:   int(o.fetched.Load()) + p.Completed,
	}))
}
