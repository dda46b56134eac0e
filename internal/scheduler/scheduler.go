// Package scheduler runs crawl tasks on a bounded, paced worker pool.
//
// One Scheduler is shared by every crawl in the process: the concurrency
// bound and the pacing gate apply across concurrent Run calls.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/metrics"
	"github.com/JakeFAU/datapull/internal/policy/ratelimit"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultConcurrency   = 5
	DefaultInterval      = 500 * time.Millisecond
	DefaultProgressEvery = 10
)

// Config bounds the pool.
type Config struct {
	// Concurrency is the maximum number of fetches in flight.
	Concurrency int
	// Interval is the minimum spacing between fetch starts. Negative disables pacing.
	Interval time.Duration
	// ProgressEvery triggers a progress notification every N completions.
	ProgressEvery int
}

// Progress is reported every ProgressEvery completions of a single Run.
type Progress struct {
	SourceID  string
	Completed int
	Total     int
	Failed    int
}

// ProgressFunc receives progress notifications. It must not block.
type ProgressFunc func(Progress)

// Scheduler executes fetches with no more than Concurrency in flight and no
// more than one start per Interval.
type Scheduler struct {
	fetcher       crawler.Fetcher
	clock         crawler.Clock
	slots         *semaphore.Weighted
	pacer         *ratelimit.Pacer
	progressEvery int
	onProgress    ProgressFunc
	logger        *zap.Logger
	inFlight      atomic.Int64
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scheduler) {
		s.onProgress = fn
	}
}

// New builds a Scheduler around the fetcher.
func New(fetcher crawler.Fetcher, clock crawler.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		fetcher:       fetcher,
		clock:         clock,
		slots:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		pacer:         ratelimit.NewPacer(cfg.Interval),
		progressEvery: cfg.ProgressEvery,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InFlight returns the number of fetches currently running.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Run executes every task and returns one result per task in completion
// order. A failing task yields a result with Err set and never aborts its
// siblings. Tasks not yet started when ctx ends are returned as failures.
func (s *Scheduler) Run(ctx context.Context, tasks []crawler.CrawlTask) []crawler.CrawlResult {
	if len(tasks) == 0 {
		return nil
	}
	out := make(chan crawler.CrawlResult, len(tasks))
	go s.submit(ctx, tasks, out)

	results := make([]crawler.CrawlResult, 0, len(tasks))
	failed := 0
	for range tasks {
		res := <-out
		if !res.OK() {
			failed++
		}
		results = append(results, res)
		if len(results)%s.progressEvery == 0 {
			s.reportProgress(tasks[0].SourceID, len(results), len(tasks), failed)
		}
	}
	return results
}

func (s *Scheduler) submit(ctx context.Context, tasks []crawler.CrawlTask, out chan<- crawler.CrawlResult) {
	for _, task := range tasks {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			out <- s.failure(task, fmt.Errorf("acquire fetch slot: %w", err))
			continue
		}
		if err := s.pacer.Wait(ctx); err != nil {
			s.slots.Release(1)
			out <- s.failure(task, err)
			continue
		}
		go func(task crawler.CrawlTask) {
			defer s.slots.Release(1)
			out <- s.execute(ctx, task)
		}(task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task crawler.CrawlTask) (res crawler.CrawlResult) {
	s.inFlight.Add(1)
	metrics.IncInFlight()
	start := s.clock.Now()
	defer func() {
		s.inFlight.Add(-1)
		metrics.DecInFlight()
		if rec := recover(); rec != nil {
			s.logger.Error("fetch panicked", zap.String("url", task.URL), zap.Any("panic", rec))
			res = s.failure(task, fmt.Errorf("fetch panic: %v", rec))
			if res.StatusCode == 0 {
				res.StatusCode = 500
			}
		}
	}()

	res, err := s.fetcher.Fetch(ctx, task)
	if res.URL == "" {
		res.URL = task.URL
	}
	res.RequestURL = task.URL
	res.SourceID = task.SourceID
	res.Depth = task.Priority
	if res.FetchedAt.IsZero() {
		res.FetchedAt = start
	}
	if res.Duration == 0 {
		res.Duration = s.clock.Now().Sub(start)
	}
	if err != nil {
		res.Err = err
		s.logger.Debug("fetch failed", zap.String("url", task.URL), zap.Int("status", res.StatusCode), zap.Error(err))
	}
	status := "error"
	if res.StatusCode > 0 {
		status = strconv.Itoa(res.StatusCode)
	}
	metrics.ObserveFetch(task.URL, status, len(res.Payload))
	return res
}

func (s *Scheduler) failure(task crawler.CrawlTask, err error) crawler.CrawlResult {
	return crawler.CrawlResult{
		URL:        task.URL,
		RequestURL: task.URL,
		SourceID:   task.SourceID,
		Depth:      task.Priority,
		FetchedAt:  s.clock.Now(),
		Err:        err,
	}
}

func (s *Scheduler) reportProgress(sourceID string, completed, total, failed int) {
	p := Progress{SourceID: sourceID, Completed: completed, Total: total, Failed: failed}
	s.logger.Info("crawl progress",
		zap.String("source_id", sourceID),
		zap.Int("completed", completed),
		zap.Int("total", total),
		zap.Int("failed", failed),
	)
	if s.onProgress != nil {
		s.onProgress(p)
	}
}
