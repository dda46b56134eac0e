// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultUserAgent     = "Datapull/1.0 (+https://github.com/datapull/crawler)"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRedirects  = 5
	DefaultMaxBodyBytes  = 20 << 20
	DefaultRobotsTimeout = 5 * time.Second

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.8,*/*;q=0.7"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRedirects  int
	MaxBodyBytes  int
	RespectRobots bool
	RobotsTimeout time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *RobotsEnforcer
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots rules are enforced here rather than by colly
// so that an unreachable robots.txt allows the fetch.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = DefaultRobotsTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsEnforcer(cfg.UserAgent, cfg.RobotsTimeout, logger.Named("robots"))
	}
	return f
}

// Fetch executes a single HTTP GET. Non-2xx responses and robots denials
// return the partially filled result together with an error.
func (f *Fetcher) Fetch(ctx context.Context, task crawler.CrawlTask) (crawler.CrawlResult, error) {
	if f.robots != nil && !f.robots.Allowed(ctx, task.URL) {
		return crawler.CrawlResult{
			URL:        task.URL,
			StatusCode: http.StatusForbidden,
		}, crawler.ErrRobotsDisallowed
	}

	var (
		result   crawler.CrawlResult
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, task, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, task.URL, &fetchErr); err != nil {
		if result.URL == "" {
			result.URL = task.URL
		}
		return result, err
	}

	if result.ContentType == crawler.ContentHTML {
		result.Payload = decodeHTML(result.Payload)
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return result, &crawler.HTTPStatusError{StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	task crawler.CrawlTask,
	start time.Time,
	result *crawler.CrawlResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
		applyAuth(task.Auth, r.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.CrawlResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: Classify(r.Headers.Get("Content-Type"), r.Request.URL.Path),
			Payload:     append([]byte(nil), r.Body...),
			FetchedAt:   start.UTC(),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// applyAuth copies source credentials onto the outgoing request headers.
func applyAuth(auth *crawler.AuthConfig, headers *http.Header) {
	if auth == nil || headers == nil {
		return
	}
	if len(auth.Cookies) > 0 {
		headers.Set("Cookie", cookieHeader(auth.Cookies))
	}
	if auth.Authorization != "" {
		headers.Set("Authorization", auth.Authorization)
	}
	for key, value := range auth.Headers {
		headers.Set(key, value)
	}
}

func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}

// Classify maps a Content-Type header and URL path to a content class.
func Classify(contentType, urlPath string) crawler.ContentType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/pdf"):
		return crawler.ContentPDF
	case strings.EqualFold(path.Ext(urlPath), ".pdf"):
		return crawler.ContentPDF
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return crawler.ContentHTML
	default:
		return crawler.ContentUnknown
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
