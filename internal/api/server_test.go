package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/orchestrator"
	"github.com/JakeFAU/datapull/internal/progress"
	"github.com/JakeFAU/datapull/internal/progress/sinks"
)

type fakeCrawler struct {
	mu      sync.Mutex
	running bool
	begun   [][]crawler.SourceConfig
	stopped int
	err     error
}

func (f *fakeCrawler) Status() progress.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return progress.TaskStatus{State: progress.TaskRunning}
	}
	return progress.TaskStatus{State: progress.TaskIdle}
}

func (f *fakeCrawler) Begin(sources []crawler.SourceConfig) (func(context.Context) []orchestrator.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.running {
		return nil, orchestrator.ErrCrawlRunning
	}
	f.running = true
	f.begun = append(f.begun, sources)
	return func(context.Context) []orchestrator.Summary {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.running = false
		return []orchestrator.Summary{{SourceID: sources[0].ID}}
	}, nil
}

func (f *fakeCrawler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

type fakeSources []crawler.SourceConfig

func (s fakeSources) Source(id string) (crawler.SourceConfig, bool) {
	for _, src := range s {
		if src.ID == id {
			return src, true
		}
	}
	return crawler.SourceConfig{}, false
}

func (s fakeSources) SourceConfigs() []crawler.SourceConfig { return s }

var testSources = fakeSources{
	{ID: "alpha", Seeds: []string{"https://alpha.test/"}},
	{ID: "beta", Seeds: []string{"https://beta.test/"}},
}

// deferredLaunch holds background tasks until the test runs them.
type deferredLaunch struct {
	mu    sync.Mutex
	tasks []func(context.Context)
}

func (d *deferredLaunch) Launch(task func(context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

func (d *deferredLaunch) RunAll() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

func newTestServer(c *fakeCrawler, launch *deferredLaunch) *Server {
	return NewServer(Options{
		Crawler: c,
		Sources: testSources,
		Launch:  launch.Launch,
	})
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// TestServerHealthEndpoints checks the probe and metrics routes.
func TestServerHealthEndpoints(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "datapull_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(Options{Crawler: &fakeCrawler{}, Gatherer: reg})

	rec := do(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "datapull_test_total 1")
}

// TestServerReadyzReportsDependencyFailure verifies a failing ready check yields 503.
func TestServerReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{
		Crawler: &fakeCrawler{},
		Ready:   func(context.Context) error { return errors.New("snapshot dir unwritable") },
	})
	rec := do(s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapshot dir unwritable")
}

// TestServerStartCrawlAllSources starts every configured source in the background.
func TestServerStartCrawlAllSources(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{}
	launch := &deferredLaunch{}
	s := newTestServer(c, launch)

	rec := do(s, http.MethodPost, "/v1/crawl", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"running"`)
	require.Len(t, c.begun, 1)
	assert.Len(t, c.begun[0], 2)

	rec = do(s, http.MethodPost, "/v1/crawl", `{"sourceIds":["beta"]}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	launch.RunAll()
	assert.Equal(t, progress.TaskIdle, c.Status().State)

	rec = do(s, http.MethodPost, "/v1/crawl", `{"sourceIds":["beta"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, c.begun, 2)
	assert.Equal(t, "beta", c.begun[1][0].ID)
}

// TestServerStartCrawlRejectsBadRequests covers unknown sources, bad JSON and invalid configs.
func TestServerStartCrawlRejectsBadRequests(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeCrawler{}, &deferredLaunch{})
	rec := do(s, http.MethodPost, "/v1/crawl", `{"sourceIds":["gamma"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown source")

	rec = do(s, http.MethodPost, "/v1/crawl", `{bad`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	invalid := newTestServer(&fakeCrawler{err: fmt.Errorf("%w: seed", crawler.ErrInvalidSource)}, &deferredLaunch{})
	rec = do(invalid, http.MethodPost, "/v1/crawl", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestServerStopAndStatus checks the stop and status routes.
func TestServerStopAndStatus(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{}
	s := newTestServer(c, &deferredLaunch{})

	rec := do(s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Task progress.TaskStatus `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, progress.TaskIdle, body.Task.State)

	rec = do(s, http.MethodPost, "/v1/crawl/stop", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, c.stopped)
}

// TestServerAPIKeyGuardsV1 verifies the key is required on /v1 but not on probes.
func TestServerAPIKeyGuardsV1(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Crawler: &fakeCrawler{}, Sources: testSources, APIKey: "secret"})

	rec := do(s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestServerEventsStreamsSSE verifies new subscribers receive the current task status.
func TestServerEventsStreamsSSE(t *testing.T) {
	t.Parallel()

	feed := sinks.NewBroadcaster()
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	feed.Publish(progress.New(progress.KindTaskStatus, ts, "", progress.TaskStatus{State: progress.TaskRunning}))

	s := NewServer(Options{Crawler: &fakeCrawler{}, Feed: feed})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: task.status", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "data: "))
	var evt map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &evt))
	assert.Equal(t, "task.status", evt["type"])
	assert.Equal(t, "running", evt["data"].(map[string]any)["state"])

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestServerEventsWithoutFeed returns 503.
func TestServerEventsWithoutFeed(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Crawler: &fakeCrawler{}})
	rec := do(s, http.MethodGet, "/v1/events", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
