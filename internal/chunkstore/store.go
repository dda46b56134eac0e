// Package chunkstore holds document chunks through their upload lifecycle:
// pending, then uploaded or failed, with failed chunks eligible for another
// upload. Chunks are deduplicated by content hash at insertion.
package chunkstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/chunker"
	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/snapshot"
)

// Status is a chunk's upload state.
type Status string

// Chunk upload states.
const (
	StatusPending  Status = "pending"
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Sentinel errors.
var (
	ErrNotFound      = &crawler.CodedError{Code: crawler.CodeNotFound, Msg: "chunk not found"}
	ErrInvalidStatus = &crawler.CodedError{Code: crawler.CodeInvalidStatus, Msg: "invalid chunk status transition"}
)

// Meta carries the per-chunk fields sent to the ingest service.
type Meta struct {
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	ContentHash string `json:"contentHash"`
}

// Record is a stored chunk.
type Record struct {
	ID           string           `json:"id"`
	SourceID     string           `json:"sourceId"`
	Title        string           `json:"title"`
	URL          string           `json:"url"`
	Content      string           `json:"content"`
	Version      string           `json:"version"`
	Lang         crawler.Language `json:"lang"`
	Meta         Meta             `json:"meta"`
	Status       Status           `json:"status"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status   Status
	SourceID string
}

// Stats counts records per status.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
}

// Config wires the store's collaborators.
type Config struct {
	Clock  crawler.Clock
	IDs    crawler.IDGenerator
	Logger *zap.Logger
	// Snapshot is optional; without it the store is memory only.
	Snapshot *snapshot.File
	Flush    snapshot.FlusherConfig
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

func (e *entry) get() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// Store is the process-wide chunk repository. Mutations lock only the
// affected record.
type Store struct {
	clock   crawler.Clock
	ids     crawler.IDGenerator
	logger  *zap.Logger
	file    *snapshot.File
	flusher *snapshot.Flusher

	records  sync.Map // id -> *entry
	byHash   sync.Map // content hash -> *entry
	uploaded sync.Map // content hash -> *entry that was uploaded first
}

// New constructs an empty store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		clock:  cfg.Clock,
		ids:    cfg.IDs,
		logger: logger.Named("chunkstore"),
		file:   cfg.Snapshot,
	}
	if s.file != nil {
		flushCfg := cfg.Flush
		if flushCfg.Logger == nil {
			flushCfg.Logger = s.logger
		}
		s.flusher = snapshot.NewFlusher(s.save, flushCfg)
	}
	return s
}

// Load replaces the store contents with the snapshot, if one exists.
func (s *Store) Load(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	var records []Record
	found, err := s.file.Load(ctx, &records)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if !found {
		s.logger.Debug("no chunk snapshot, starting empty", zap.String("path", s.file.Path()))
		return nil
	}
	s.reset()
	for _, rec := range records {
		e := &entry{rec: rec}
		s.records.Store(rec.ID, e)
		s.byHash.LoadOrStore(rec.Meta.ContentHash, e)
		if rec.Status == StatusUploaded {
			s.uploaded.LoadOrStore(rec.Meta.ContentHash, e)
		}
	}
	s.logger.Info("loaded chunk snapshot", zap.Int("count", len(records)))
	return nil
}

// Close writes any pending snapshot change.
func (s *Store) Close(ctx context.Context) error {
	if s.flusher == nil {
		return nil
	}
	return s.flusher.Close(ctx)
}

// Flush writes the snapshot now.
func (s *Store) Flush(ctx context.Context) error {
	if s.flusher == nil {
		return nil
	}
	return s.flusher.Flush(ctx)
}

// Add stores a chunk in pending state. When a chunk with the same content
// hash already exists the existing record is returned and created is false.
func (s *Store) Add(c chunker.Chunk, title, version string) (rec Record, created bool, err error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Record{}, false, fmt.Errorf("add chunk: %w", err)
	}
	now := s.clock.Now()
	e := &entry{rec: Record{
		ID:       id,
		SourceID: c.SourceID,
		Title:    title,
		URL:      c.URL,
		Content:  c.Content,
		Version:  version,
		Lang:     c.Lang,
		Meta: Meta{
			ChunkIndex:  c.Index,
			TotalChunks: c.Total,
			ContentHash: c.ContentHash,
		},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	rec = e.rec
	// The record must be retrievable by id before its hash is visible.
	s.records.Store(id, e)
	actual, loaded := s.byHash.LoadOrStore(c.ContentHash, e)
	if loaded {
		s.records.Delete(id)
		s.flusher.Mark()
		existing := actual.(*entry).get()
		s.logger.Debug("chunk already stored",
			zap.String("content_hash", c.ContentHash),
			zap.String("existing_id", existing.ID))
		return existing, false, nil
	}
	s.flusher.Mark()
	return rec, true, nil
}

// AddDocument stores every chunk of one document and returns the records,
// existing ones included.
func (s *Store) AddDocument(doc crawler.ExtractedDocument, chunks []chunker.Chunk) ([]Record, error) {
	out := make([]Record, 0, len(chunks))
	for _, c := range chunks {
		rec, _, err := s.Add(c, doc.Title, doc.Version)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return e.get(), nil
}

// UploadedByHash returns the uploaded record holding the content hash.
func (s *Store) UploadedByHash(hash string) (Record, bool) {
	v, ok := s.uploaded.Load(hash)
	if !ok {
		return Record{}, false
	}
	return v.(*entry).get(), true
}

// MarkUploaded moves a pending or failed chunk to uploaded. Marking an
// uploaded chunk again is a no-op.
func (s *Store) MarkUploaded(id string) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("mark uploaded %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	changed := e.rec.Status != StatusUploaded
	if changed {
		e.rec.Status = StatusUploaded
		e.rec.ErrorMessage = ""
		e.rec.UpdatedAt = s.clock.Now()
	}
	rec := e.rec
	e.mu.Unlock()

	s.uploaded.LoadOrStore(rec.Meta.ContentHash, e)
	if changed {
		s.flusher.Mark()
	}
	return rec, nil
}

// MarkFailed records an upload failure. Uploaded chunks cannot fail.
func (s *Store) MarkFailed(id, message string) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("mark failed %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	if e.rec.Status == StatusUploaded {
		e.mu.Unlock()
		return Record{}, fmt.Errorf("mark failed %s: %w", id, ErrInvalidStatus)
	}
	e.rec.Status = StatusFailed
	e.rec.ErrorMessage = message
	e.rec.UpdatedAt = s.clock.Now()
	rec := e.rec
	e.mu.Unlock()

	s.flusher.Mark()
	return rec, nil
}

// List returns a page of records, oldest first.
func (s *Store) List(f Filter, page, pageSize int) crawler.Page[Record] {
	return crawler.Paginate(s.collect(f), page, pageSize)
}

// IDs returns the ids of records in any of the given states, oldest first.
func (s *Store) IDs(statuses ...Status) []string {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var ids []string
	for _, rec := range s.collect(Filter{}) {
		if want[rec.Status] {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Stats counts records per status.
func (s *Store) Stats() Stats {
	var st Stats
	s.records.Range(func(_, v any) bool {
		st.Total++
		switch v.(*entry).get().Status {
		case StatusPending:
			st.Pending++
		case StatusUploaded:
			st.Uploaded++
		case StatusFailed:
			st.Failed++
		}
		return true
	})
	return st
}

// Clear drops every record.
func (s *Store) Clear() {
	s.reset()
	s.flusher.Mark()
}

func (s *Store) reset() {
	s.records.Clear()
	s.byHash.Clear()
	s.uploaded.Clear()
}

func (s *Store) lookup(id string) (*entry, bool) {
	v, ok := s.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (s *Store) collect(f Filter) []Record {
	var out []Record
	s.records.Range(func(_, v any) bool {
		rec := v.(*entry).get()
		if f.Status != "" && rec.Status != f.Status {
			return true
		}
		if f.SourceID != "" && rec.SourceID != f.SourceID {
			return true
		}
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) save(ctx context.Context) error {
	return s.file.Save(ctx, s.collect(Filter{}))
}
