package oplog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/storage/local"
)

// FileLog writes one JSON file per operation under a directory.
type FileLog struct {
	dir    string
	blobs  *local.BlobStore
	logger *zap.Logger
}

// NewFileLog creates the directory if needed.
func NewFileLog(dir string, logger *zap.Logger) (*FileLog, error) {
	blobs, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("operation log dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLog{dir: dir, blobs: blobs, logger: logger.Named("oplog")}, nil
}

// Start writes a processing record.
func (l *FileLog) Start(ctx context.Context, rec Record) error {
	rec.Status = StatusProcessing
	if err := l.write(ctx, rec); err != nil {
		return fmt.Errorf("start operation %s: %w", rec.OperationID, err)
	}
	l.logger.Info("operation started", zap.String("operation_id", rec.OperationID), zap.String("source_id", rec.SourceID))
	return nil
}

// Complete applies the terminal update. A missing record is recreated from
// the completion alone.
func (l *FileLog) Complete(ctx context.Context, operationID string, c Completion) error {
	rec, err := l.read(ctx, operationID)
	if errors.Is(err, crawler.ErrObjectNotFound) {
		rec = Record{OperationID: operationID, CreatedAt: c.At}
	} else if err != nil {
		return fmt.Errorf("complete operation %s: %w", operationID, err)
	}
	rec = c.Apply(rec)
	if err := l.write(ctx, rec); err != nil {
		return fmt.Errorf("complete operation %s: %w", operationID, err)
	}
	l.logger.Info("operation completed",
		zap.String("operation_id", operationID),
		zap.String("status", string(rec.Status)),
		zap.Int("docs", rec.DocsCount),
		zap.Int("failed", rec.FailedCount))
	return nil
}

// Get reads one record.
func (l *FileLog) Get(ctx context.Context, operationID string) (Record, error) {
	rec, err := l.read(ctx, operationID)
	if err != nil {
		return Record{}, fmt.Errorf("get operation %s: %w", operationID, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. Unreadable files are skipped.
func (l *FileLog) List(ctx context.Context, limit int) ([]Record, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := l.read(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			l.logger.Warn("skipping unreadable operation record", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *FileLog) read(ctx context.Context, operationID string) (Record, error) {
	data, err := l.blobs.GetObject(ctx, operationID+".json")
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode operation: %w", err)
	}
	return rec, nil
}

func (l *FileLog) write(ctx context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	_, err = l.blobs.PutObject(ctx, rec.OperationID+".json", "application/json", bytes.NewReader(data))
	return err
}
