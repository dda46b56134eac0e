package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/metrics"
	"github.com/JakeFAU/datapull/internal/oplog"
	"github.com/JakeFAU/datapull/internal/orchestrator"
	"github.com/JakeFAU/datapull/internal/progress"
)

const requestTimeout = 60 * time.Second

// Crawler is the crawl control surface the server drives.
type Crawler interface {
	Status() progress.TaskStatus
	Begin(sources []crawler.SourceConfig) (func(context.Context) []orchestrator.Summary, error)
	Stop()
}

// Sources resolves configured sources.
type Sources interface {
	Source(id string) (crawler.SourceConfig, bool)
	SourceConfigs() []crawler.SourceConfig
}

// Feed hands out event subscriptions.
type Feed interface {
	Subscribe(buffer int) (<-chan progress.Event, func())
}

// Options wires the server's collaborators. Feed, Operations, Gatherer
// and Ready are optional.
type Options struct {
	Crawler    Crawler
	Sources    Sources
	Feed       Feed
	Operations oplog.Log
	Gatherer   prometheus.Gatherer
	// Ready reports whether downstream dependencies are usable.
	Ready func(ctx context.Context) error
	// Launch runs a background crawl. Defaults to a plain goroutine.
	Launch func(task func(ctx context.Context))
	// APIKey, when non-empty, guards the /v1 routes.
	APIKey string
	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the crawl service and event feed.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Launch == nil {
		opts.Launch = func(task func(context.Context)) { go task(context.Background()) }
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	s := &Server{opts: opts, logger: opts.Logger.Named("api")}
	ops := NewOperationsHandler(opts.Operations, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/events", s.events)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Get("/status", s.status)
			r.Post("/crawl", s.startCrawl)
			r.Post("/crawl/stop", s.stopCrawl)
			r.Get("/operations", ops.ListOperations)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"task": s.opts.Crawler.Status()})
}

type crawlRequest struct {
	SourceIDs []string `json:"sourceIds"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	sources, err := s.resolveSources(req.SourceIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.opts.Crawler.Begin(sources)
	switch {
	case errors.Is(err, orchestrator.ErrCrawlRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, crawler.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.opts.Launch(func(ctx context.Context) {
		for _, sum := range run(ctx) {
			s.logger.Info("crawl summary",
				zap.String("source_id", sum.SourceID),
				zap.Int("total_fetched", sum.TotalFetched),
				zap.Int("succeeded", sum.Succeeded),
				zap.Int("failed", sum.Failed),
				zap.Int("documents", sum.Documents),
				zap.Int64("duration_ms", sum.DurationMs),
			)
		}
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"task": s.opts.Crawler.Status()})
}

func (s *Server) resolveSources(ids []string) ([]crawler.SourceConfig, error) {
	if s.opts.Sources == nil {
		return nil, errors.New("no sources configured")
	}
	if len(ids) == 0 {
		all := s.opts.Sources.SourceConfigs()
		if len(all) == 0 {
			return nil, errors.New("no sources configured")
		}
		return all, nil
	}
	out := make([]crawler.SourceConfig, 0, len(ids))
	for _, id := range ids {
		src, ok := s.opts.Sources.Source(id)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		out = append(out, src)
	}
	return out, nil
}

func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	s.opts.Crawler.Stop()
	writeJSON(w, http.StatusAccepted, map[string]any{"task": s.opts.Crawler.Status()})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, cancel := s.opts.Feed.Subscribe(0)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				s.logger.Debug("sse write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt progress.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client gone
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
