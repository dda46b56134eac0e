package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/chunkstore"
	"github.com/JakeFAU/datapull/internal/config"
	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/ingest"
	"github.com/JakeFAU/datapull/internal/oplog"
	"github.com/JakeFAU/datapull/internal/progress"
	memorypublisher "github.com/JakeFAU/datapull/internal/publisher/memory"
	"github.com/JakeFAU/datapull/internal/review"
)

var paragraph = strings.Repeat("Drivers must stop completely at a red light and yield to pedestrians. ", 4)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rules", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>Rules</title></head><body><main><p>%s</p><a href="/rules/signals">signals</a></main></body></html>`, paragraph)
	})
	mux.HandleFunc("/rules/signals", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>Signals</title></head><body><main><p>%s Signals differ.</p></main></body></html>`, paragraph)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newIngest(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls.Add(1)
		var req ingest.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := ingest.BatchResponse{Processed: len(req.Docs), OperationID: "remote-op"}
		for i := range req.Docs {
			resp.Results = append(resp.Results, ingest.ItemResult{Index: i, Status: ingest.ItemSuccess, DocID: fmt.Sprintf("doc-%d", i)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": resp})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, site, ingestURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.ArchiveBackend = config.BackendLocal
	cfg.Storage.ArchiveDir = filepath.Join(dir, "raw")
	cfg.OpLog.Dir = filepath.Join(dir, "operations")
	cfg.Crawler.RespectRobots = false
	cfg.Crawler.IntervalMs = 10
	cfg.Ingest.BaseURL = ingestURL
	cfg.Ingest.InitialBackoffMs = 1
	depth, pages := 1, 10
	cfg.Sources = []config.SourceEntry{{
		ID:       "rules",
		Lang:     "en",
		Seeds:    []string{site + "/rules"},
		MaxDepth: &depth,
		MaxPages: &pages,
	}}
	require.NoError(t, cfg.Validate())
	return cfg
}

// TestCrawlReviewUploadFlow drives a crawl through review and upload end to end.
func TestCrawlReviewUploadFlow(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	site := newSite(t)
	remote := newIngest(t, &calls)
	cfg := testConfig(t, site.URL, remote.URL)
	pub := memorypublisher.New()

	ctx := context.Background()
	a, err := Build(ctx, cfg, zap.NewNop(), Options{Publisher: pub})
	require.NoError(t, err)
	require.NoError(t, a.Load(ctx))

	events, cancel := a.Feed.Subscribe(1024)
	defer cancel()

	sums, err := a.Orchestrator.Crawl(ctx, cfg.SourceConfigs())
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 2, sums[0].TotalFetched)
	assert.Equal(t, 2, sums[0].Documents)

	listed := a.Reviews.List(review.Filter{Status: review.StatusPending}, 1, 50)
	require.Len(t, listed.Items, 2)
	ids := []string{listed.Items[0].ID, listed.Items[1].ID}
	batch := a.Reviews.BatchApprove(ids)
	assert.Equal(t, 2, batch.Succeeded)

	pending := a.Chunks.IDs(chunkstore.StatusPending)
	require.NotEmpty(t, pending)

	summaries, err := a.Uploads.UploadPending(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].Failed)
	assert.Equal(t, "remote-op", summaries[0].OperationID)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, a.Chunks.IDs(chunkstore.StatusPending, chunkstore.StatusFailed))

	records, err := a.Ops.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, oplog.StatusCompleted, records[0].Status)
	assert.Equal(t, "remote-op", records[0].RemoteOperationID)

	require.NoError(t, a.Remote.Health(ctx))

	seen := map[progress.Kind]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case evt := <-events:
				seen[evt.Kind] = true
			default:
				return seen[progress.KindTaskStatus] && seen[progress.KindUploadCompleted] &&
					seen[progress.KindChunkStatus] && seen[progress.KindLog]
			}
		}
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Close(ctx))
	kinds := map[string]bool{}
	for _, msg := range pub.Messages() {
		kinds[msg.Kind] = true
	}
	assert.True(t, kinds[string(progress.KindUploadCompleted)])
	assert.False(t, kinds[string(progress.KindLog)], "log events stay off the topic")
}

// TestStoresPersistAcrossBuilds verifies separate processes see earlier decisions.
func TestStoresPersistAcrossBuilds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	site := newSite(t)
	remote := newIngest(t, &calls)
	cfg := testConfig(t, site.URL, remote.URL)
	ctx := context.Background()

	first, err := Build(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, first.Load(ctx))
	src, ok := cfg.Source("rules")
	require.True(t, ok)
	_, err = first.Orchestrator.CrawlSource(ctx, src)
	require.NoError(t, err)
	listed := first.Reviews.List(review.Filter{}, 1, 50)
	require.NotEmpty(t, listed.Items)
	_, err = first.Reviews.Reject(listed.Items[0].ID)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, err := Build(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	defer second.Close(ctx) //nolint:errcheck // test cleanup
	require.NoError(t, second.Load(ctx))
	rec, err := second.Reviews.Get(listed.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusRejected, rec.Status)
	assert.Equal(t, listed.Total, second.Reviews.Stats().Total)
}

// TestHandlerServesStatus verifies the app wires the HTTP surface.
func TestHandlerServesStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cfg := testConfig(t, newSite(t).URL, newIngest(t, &calls).URL)
	ctx := context.Background()
	a, err := Build(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close(ctx) //nolint:errcheck // test cleanup

	h := a.Handler(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestApprovalUsesConfiguredChunkBounds verifies chunker settings reach approval.
func TestApprovalUsesConfiguredChunkBounds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cfg := testConfig(t, newSite(t).URL, newIngest(t, &calls).URL)
	cfg.Chunker = config.ChunkerConfig{MinChars: 50, MaxChars: 200, OverlapChars: 10}
	require.NoError(t, cfg.Validate())
	ctx := context.Background()
	a, err := Build(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close(ctx) //nolint:errcheck // test cleanup

	long, err := a.Reviews.Add(crawler.ExtractedDocument{
		Title:    "Rules",
		URL:      "https://example.com/rules",
		Content:  strings.TrimSpace(strings.Repeat("Yield to pedestrians at every crossing. ", 28)),
		Lang:     crawler.LangEN,
		SourceID: "rules",
		Version:  "v1",
	})
	require.NoError(t, err)
	approval, err := a.Reviews.Approve(long.ID)
	require.NoError(t, err)
	require.Greater(t, len(approval.Chunks), 5)
	for _, c := range approval.Chunks {
		n := utf8.RuneCountInString(c.Content)
		assert.GreaterOrEqual(t, n, 50)
		assert.LessOrEqual(t, n, 200)
	}

	short, err := a.Reviews.Add(crawler.ExtractedDocument{
		URL:      "https://example.com/short",
		Content:  strings.Repeat("s", 70),
		Lang:     crawler.LangEN,
		SourceID: "rules",
		Version:  "v1",
	})
	require.NoError(t, err)
	approval, err = a.Reviews.Approve(short.ID)
	require.NoError(t, err)
	assert.Len(t, approval.Chunks, 1)
}

// TestBuildRejectsMissingIngestURL verifies construction errors surface.
func TestBuildRejectsMissingIngestURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://example.com", "http://127.0.0.1:1")
	cfg.Ingest.BaseURL = " "
	_, err := Build(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
}
