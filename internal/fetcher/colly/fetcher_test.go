package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/datapull/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body>cookie=%s auth=%s x=%s accept=%s</body></html>",
			r.Header.Get("Cookie"), r.Header.Get("Authorization"), r.Header.Get("X-Source"), r.Header.Get("Accept"))
	})
	mux.HandleFunc("/private/doc", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "secret")
	})
	mux.HandleFunc("/files/guide.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/sjis", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		page := `<html><head><meta charset="shift_jis"></head><body>日本語のページ</body></html>`
		encoded, _, err := transform.String(japanese.ShiftJIS.NewEncoder(), page)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(encoded))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// TestFetchInjectsAuthHeaders sends cookies, authorization and custom headers.
func TestFetchInjectsAuthHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{RespectRobots: true, Timeout: 5 * time.Second}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{
		URL: srv.URL + "/page",
		Auth: &crawler.AuthConfig{
			Cookies:       map[string]string{"b": "2", "a": "1"},
			Authorization: "Bearer abc",
			Headers:       map[string]string{"X-Source": "docs"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, crawler.ContentHTML, res.ContentType)
	body := string(res.Payload)
	require.Contains(t, body, "cookie=a=1; b=2")
	require.Contains(t, body, "auth=Bearer abc")
	require.Contains(t, body, "x=docs")
	require.Contains(t, body, "application/pdf;q=0.8")
}

// TestFetchRobotsDisallowed reports a 403 without contacting the page.
func TestFetchRobotsDisallowed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{RespectRobots: true}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/private/doc"})
	require.ErrorIs(t, err, crawler.ErrRobotsDisallowed)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Empty(t, res.Payload)
}

// TestFetchIgnoresRobotsWhenDisabled fetches disallowed paths when robots are off.
func TestFetchIgnoresRobotsWhenDisabled(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{RespectRobots: false}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/private/doc"})
	require.NoError(t, err)
	require.Equal(t, "secret", string(res.Payload))
}

// TestFetchClassifiesPDFByExtension falls back to the path when the header is generic.
func TestFetchClassifiesPDFByExtension(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/files/guide.pdf"})
	require.NoError(t, err)
	require.Equal(t, crawler.ContentPDF, res.ContentType)
}

// TestFetchNon2xxReturnsStatusError keeps the status code on the result.
func TestFetchNon2xxReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/missing"})
	var statusErr *crawler.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

// TestFetchFollowsRedirects reports the final URL.
func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/page", res.URL)
}

// TestFetchDecodesShiftJIS converts legacy Japanese pages to UTF-8.
func TestFetchDecodesShiftJIS(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{}, nil)
	res, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/sjis"})
	require.NoError(t, err)
	require.Contains(t, string(res.Payload), "日本語のページ")
}

// TestClassify covers header and extension based classification.
func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, crawler.ContentPDF, Classify("application/pdf", "/x"))
	require.Equal(t, crawler.ContentPDF, Classify("", "/a/B.PDF"))
	require.Equal(t, crawler.ContentHTML, Classify("text/html; charset=utf-8", "/"))
	require.Equal(t, crawler.ContentHTML, Classify("application/xhtml+xml", "/"))
	require.Equal(t, crawler.ContentUnknown, Classify("image/png", "/logo.png"))
}
