// Package review holds extracted documents awaiting a human decision.
// Records start pending and move once, to approved or rejected. Approval
// chunks the document into the chunk store.
package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/chunker"
	"github.com/JakeFAU/datapull/internal/chunkstore"
	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/snapshot"
)

// Status is a review decision state.
type Status string

// Review states. Approved and rejected are final.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Sentinel errors.
var (
	ErrNotFound      = &crawler.CodedError{Code: crawler.CodeNotFound, Msg: "review record not found"}
	ErrInvalidStatus = &crawler.CodedError{Code: crawler.CodeInvalidStatus, Msg: "only pending records can be reviewed"}
)

// Record is a stored document plus its review state.
type Record struct {
	ID string `json:"id"`
	crawler.ExtractedDocument
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
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
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// ChunkFunc splits a document into chunks.
type ChunkFunc func(crawler.ExtractedDocument) []chunker.Chunk

// ChunkSink receives the chunks of approved documents.
type ChunkSink interface {
	AddDocument(doc crawler.ExtractedDocument, chunks []chunker.Chunk) ([]chunkstore.Record, error)
}

// Config wires the store's collaborators.
type Config struct {
	Clock  crawler.Clock
	IDs    crawler.IDGenerator
	Chunks ChunkSink
	// Chunk defaults to chunker.Document.
	Chunk  ChunkFunc
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

// Store is the process-wide review repository.
type Store struct {
	clock   crawler.Clock
	ids     crawler.IDGenerator
	chunks  ChunkSink
	chunk   ChunkFunc
	logger  *zap.Logger
	file    *snapshot.File
	flusher *snapshot.Flusher

	records sync.Map // id -> *entry
}

// New constructs an empty store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	chunk := cfg.Chunk
	if chunk == nil {
		chunk = chunker.Document
	}
	s := &Store{
		clock:  cfg.Clock,
		ids:    cfg.IDs,
		chunks: cfg.Chunks,
		chunk:  chunk,
		logger: logger.Named("review"),
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
		return fmt.Errorf("load reviews: %w", err)
	}
	if !found {
		s.logger.Debug("no review snapshot, starting empty", zap.String("path", s.file.Path()))
		return nil
	}
	s.records.Clear()
	for _, rec := range records {
		s.records.Store(rec.ID, &entry{rec: rec})
	}
	s.logger.Info("loaded review snapshot", zap.Int("count", len(records)))
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

// Add stores a document as a pending record.
func (s *Store) Add(doc crawler.ExtractedDocument) (Record, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("add review: %w", err)
	}
	now := s.clock.Now()
	rec := Record{
		ID:                id,
		ExtractedDocument: doc,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.records.Store(id, &entry{rec: rec})
	s.flusher.Mark()
	return rec, nil
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return e.get(), nil
}

// Approval is the outcome of approving one record.
type Approval struct {
	Record Record              `json:"record"`
	Chunks []chunkstore.Record `json:"chunks"`
}

// Approve moves a pending record to approved, then chunks it into the
// chunk store. A chunk store failure is logged; the approval stands.
func (s *Store) Approve(id string) (Approval, error) {
	rec, err := s.transition(id, StatusApproved)
	if err != nil {
		return Approval{}, fmt.Errorf("approve %s: %w", id, err)
	}
	out := Approval{Record: rec}

	chunks := s.chunk(rec.ExtractedDocument)
	if len(chunks) == 0 {
		s.logger.Warn("approved document produced no chunks", zap.String("review_id", id))
		return out, nil
	}
	if s.chunks == nil {
		return out, nil
	}
	stored, err := s.chunks.AddDocument(rec.ExtractedDocument, chunks)
	if err != nil {
		s.logger.Error("store chunks for approved document", zap.String("review_id", id), zap.Error(err))
	}
	out.Chunks = stored
	s.logger.Info("document approved",
		zap.String("review_id", id),
		zap.String("source_id", rec.SourceID),
		zap.Int("chunks", len(chunks)),
		zap.Int("stored", len(stored)))
	return out, nil
}

// Reject moves a pending record to rejected.
func (s *Store) Reject(id string) (Record, error) {
	rec, err := s.transition(id, StatusRejected)
	if err != nil {
		return Record{}, fmt.Errorf("reject %s: %w", id, err)
	}
	s.logger.Info("document rejected", zap.String("review_id", id), zap.String("source_id", rec.SourceID))
	return rec, nil
}

// ItemResult reports the outcome for one id of a batch decision.
type ItemResult struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	Status  Status       `json:"status,omitempty"`
	Chunks  int          `json:"chunks,omitempty"`
	Code    crawler.Code `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// BatchResult aggregates a batch decision. Each id is decided independently.
type BatchResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
}

// BatchApprove approves every id it can.
func (s *Store) BatchApprove(ids []string) BatchResult {
	return s.batch(ids, func(id string) (ItemResult, error) {
		a, err := s.Approve(id)
		return ItemResult{Status: a.Record.Status, Chunks: len(a.Chunks)}, err
	})
}

// BatchReject rejects every id it can.
func (s *Store) BatchReject(ids []string) BatchResult {
	return s.batch(ids, func(id string) (ItemResult, error) {
		rec, err := s.Reject(id)
		return ItemResult{Status: rec.Status}, err
	})
}

func (s *Store) batch(ids []string, apply func(string) (ItemResult, error)) BatchResult {
	res := BatchResult{Results: make([]ItemResult, 0, len(ids))}
	for _, id := range ids {
		item, err := apply(id)
		item.ID = id
		if err != nil {
			res.Failed++
			item.Code = crawler.CodeOf(err)
			item.Error = err.Error()
		} else {
			res.Succeeded++
			item.Success = true
		}
		res.Results = append(res.Results, item)
	}
	return res
}

// List returns a page of records, newest first.
func (s *Store) List(f Filter, page, pageSize int) crawler.Page[Record] {
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
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return crawler.Paginate(out, page, pageSize)
}

// Stats counts records per status.
func (s *Store) Stats() Stats {
	var st Stats
	s.records.Range(func(_, v any) bool {
		st.Total++
		switch v.(*entry).get().Status {
		case StatusPending:
			st.Pending++
		case StatusApproved:
			st.Approved++
		case StatusRejected:
			st.Rejected++
		}
		return true
	})
	return st
}

// Clear drops every record.
func (s *Store) Clear() {
	s.records.Clear()
	s.flusher.Mark()
}

func (s *Store) transition(id string, to Status) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	e.mu.Lock()
	if e.rec.Status != StatusPending {
		from := e.rec.Status
		e.mu.Unlock()
		return Record{}, fmt.Errorf("%w: current status %s", ErrInvalidStatus, from)
	}
	e.rec.Status = to
	e.rec.UpdatedAt = s.clock.Now()
	rec := e.rec
	e.mu.Unlock()

	s.flusher.Mark()
	return rec, nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	v, ok := s.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (s *Store) save(ctx context.Context) error {
	var out []Record
	s.records.Range(func(_, v any) bool {
		out = append(out, v.(*entry).get())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return s.file.Save(ctx, out)
}
