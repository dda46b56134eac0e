// Package snapshot persists in-memory stores as JSON documents in a blob
// store and flushes them in the background. Writes are best effort: a crash
// between a mutation and the next flush loses that mutation.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// File reads and writes one JSON snapshot.
type File struct {
	blobs crawler.BlobStore
	path  string
}

// NewFile binds a snapshot path to a blob store.
func NewFile(blobs crawler.BlobStore, path string) *File {
	return &File{blobs: blobs, path: path}
}

// Path returns the snapshot object path.
func (f *File) Path() string { return f.path }

// Save marshals v and writes it in one object put.
func (f *File) Save(ctx context.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := f.blobs.PutObject(ctx, f.path, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write snapshot %s: %w", f.path, err)
	}
	return nil
}

// Load decodes the snapshot into v. A missing snapshot reports false.
func (f *File) Load(ctx context.Context, v any) (bool, error) {
	data, err := f.blobs.GetObject(ctx, f.path)
	if errors.Is(err, crawler.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	return true, nil
}

// SaveFunc writes the current state of a store.
type SaveFunc func(ctx context.Context) error

// FlusherConfig controls when a Flusher writes.
//   - Interval: delay between the first mark and the write (default 1s).
//   - Sync: write inline on every Mark instead of in the background.
//   - Timeout: per-write timeout (default 10s).
type FlusherConfig struct {
	Interval time.Duration
	Sync     bool
	Timeout  time.Duration
	Logger   *zap.Logger
}

const (
	defaultFlushInterval = time.Second
	defaultFlushTimeout  = 10 * time.Second
)

// Flusher coalesces change notifications into snapshot writes. Errors are
// logged, never returned to the code that marked the change.
type Flusher struct {
	cfg    FlusherConfig
	save   SaveFunc
	logger *zap.Logger

	saveMu sync.Mutex
	dirty  chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
}

// NewFlusher starts a background flusher unless cfg.Sync is set.
func NewFlusher(save SaveFunc, cfg FlusherConfig) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFlushTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Flusher{
		cfg:    cfg,
		save:   save,
		logger: logger,
		dirty:  make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.Sync {
		close(f.doneCh)
	} else {
		go f.run()
	}
	return f
}

// Mark records that the store changed.
func (f *Flusher) Mark() {
	if f == nil {
		return
	}
	if f.cfg.Sync {
		f.flush()
		return
	}
	select {
	case f.dirty <- struct{}{}:
	default:
	}
}

// Flush writes immediately and returns the write error.
func (f *Flusher) Flush(ctx context.Context) error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()
	return f.save(ctx)
}

// Close stops the background loop after writing any pending change.
func (f *Flusher) Close(ctx context.Context) error {
	if f == nil {
		return nil
	}
	f.closeOnce.Do(func() { close(f.stopCh) })
	select {
	case <-f.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("snapshot flusher close wait: %w", ctx.Err())
	}
}

func (f *Flusher) run() {
	defer close(f.doneCh)
	for {
		select {
		case <-f.dirty:
			timer := time.NewTimer(f.cfg.Interval)
			select {
			case <-timer.C:
				f.flush()
			case <-f.stopCh:
				timer.Stop()
				f.flush()
				return
			}
		case <-f.stopCh:
			select {
			case <-f.dirty:
				f.flush()
			default:
			}
			return
		}
	}
}

func (f *Flusher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		f.logger.Error("snapshot flush failed", zap.Error(err))
	}
}
