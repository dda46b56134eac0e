// Package ingest uploads approved chunks to the remote content store: a
// retrying HTTP client, the batch pipeline, and the upload service that
// reconciles results into the chunk store.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/metrics"
)

// Sentinel errors for terminal remote responses.
var (
	ErrValidation   = &crawler.CodedError{Code: crawler.CodeValidation, Msg: "ingest rejected the request"}
	ErrUnauthorized = &crawler.CodedError{Code: crawler.CodeAuthFailed, Msg: "ingest authentication failed"}
)

// ClientConfig configures the remote ingest client.
type ClientConfig struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
	maxBackoff            = 30 * time.Second
	maxErrorBody          = 4 << 10
)

// Client talks to the remote ingest service.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("ingest base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Token == "" {
		logger.Warn("ingest token is not set")
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("ingest_client")}, nil
}

// UploadBatch posts one batch. Network errors and 5xx responses are retried
// with exponential backoff. A 409 is not an error: every document in the
// batch is reported failed with DUPLICATE_DOCUMENT. 400 and 401 return
// ErrValidation and ErrUnauthorized without retrying.
func (c *Client) UploadBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("marshal batch: %w", err)
	}
	url := c.cfg.BaseURL + "/docs/batch"

	attempt := 0
	op := func() (BatchResponse, error) {
		attempt++
		return c.postBatch(ctx, url, body, len(req.Docs))
	}
	notify := func(err error, next time.Duration) {
		metrics.ObserveUploadRetry()
		c.logger.Warn("ingest batch attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("upload batch for %s: %w", req.SourceID, err)
	}
	return resp, nil
}

func (c *Client) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	return b
}

func (c *Client) postBatch(ctx context.Context, url string, body []byte, docs int) (BatchResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return BatchResponse{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return BatchResponse{}, backoff.Permanent(err)
		}
		return BatchResponse{}, crawler.NewCodedError(crawler.CodeNetwork, "post batch", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out BatchResponse
		if err := decodeData(resp.Body, &out); err != nil {
			return BatchResponse{}, backoff.Permanent(fmt.Errorf("decode batch response: %w", err))
		}
		return out, nil
	case resp.StatusCode == http.StatusConflict:
		msg := remoteMessage(resp.Body, "document already exists")
		c.logger.Warn("ingest reported duplicate documents", zap.Int("docs", docs), zap.String("message", msg))
		return duplicateResponse(docs, msg), nil
	case resp.StatusCode == http.StatusBadRequest:
		return BatchResponse{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrValidation, remoteMessage(resp.Body, "validation failed")))
	case resp.StatusCode == http.StatusUnauthorized:
		return BatchResponse{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrUnauthorized, remoteMessage(resp.Body, "token invalid or missing")))
	case resp.StatusCode >= 500:
		return BatchResponse{}, crawler.NewCodedError(crawler.CodeServer,
			"ingest server error "+strconv.Itoa(resp.StatusCode), errors.New(remoteMessage(resp.Body, resp.Status)))
	default:
		return BatchResponse{}, backoff.Permanent(crawler.NewCodedError(crawler.CodeBatchError,
			"unexpected ingest status "+strconv.Itoa(resp.StatusCode), errors.New(remoteMessage(resp.Body, resp.Status))))
	}
}

func duplicateResponse(docs int, msg string) BatchResponse {
	out := BatchResponse{Failed: docs, Results: make([]ItemResult, docs)}
	for i := range out.Results {
		out.Results[i] = ItemResult{
			Index:  i,
			Status: ItemFailed,
			Error:  &ItemError{Code: crawler.CodeDuplicateDocument, Message: msg},
		}
	}
	return out
}

// Health reports whether GET {base}/health answers 200.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ingest health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest health: %w", &crawler.HTTPStatusError{StatusCode: resp.StatusCode})
	}
	return nil
}

// Operations lists the remote operation log, newest first per the server.
func (c *Client) Operations(ctx context.Context, sourceID string, limit int) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/operations", nil)
	if err != nil {
		return nil, fmt.Errorf("build operations request: %w", err)
	}
	q := req.URL.Query()
	if sourceID != "" {
		q.Set("sourceId", sourceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list operations: %w", &crawler.HTTPStatusError{StatusCode: resp.StatusCode})
	}
	var ops []map[string]any
	if err := decodeData(resp.Body, &ops); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return ops, nil
}

// decodeData decodes a body that may be wrapped as {"data": ...}.
func decodeData(r io.Reader, v any) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		raw = envelope.Data
	}
	return json.Unmarshal(raw, v)
}

// remoteMessage extracts error.message from an error body, or the fallback.
func remoteMessage(r io.Reader, fallback string) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return fallback
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fallback
}
