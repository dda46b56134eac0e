package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/chunkstore"
	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/oplog"
	"github.com/JakeFAU/datapull/internal/progress"
)

// MaxUploadIDs bounds the chunk ids accepted by one Upload call.
const MaxUploadIDs = 100

// ChunkStore is the slice of the chunk store the service needs.
type ChunkStore interface {
	Get(id string) (chunkstore.Record, error)
	UploadedByHash(hash string) (chunkstore.Record, bool)
	MarkUploaded(id string) (chunkstore.Record, error)
	MarkFailed(id, message string) (chunkstore.Record, error)
	IDs(statuses ...chunkstore.Status) []string
}

// OperationIDs allocates local operation ids.
type OperationIDs interface {
	NewOperationID() (string, error)
}

// ChunkResult is the outcome for one requested chunk.
type ChunkResult struct {
	ChunkID string       `json:"chunkId"`
	Status  string       `json:"status"`
	DocID   string       `json:"docId,omitempty"`
	Code    crawler.Code `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Summary is the outcome of one Upload call. Processed counts successes
// and duplicates.
type Summary struct {
	OperationID string        `json:"operationId"`
	Operations  []string      `json:"operations,omitempty"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	Duplicates  int           `json:"duplicates"`
	Results     []ChunkResult `json:"results"`
}

// ServiceConfig wires the upload service.
type ServiceConfig struct {
	Store          ChunkStore
	Pipeline       *Pipeline
	Ops            oplog.Log
	IDs            OperationIDs
	Clock          crawler.Clock
	Events         progress.Emitter
	CrawlerVersion string
	Logger         *zap.Logger
}

// Service uploads stored chunks and reconciles the outcome into the store.
type Service struct {
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService builds the upload service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Events == nil {
		cfg.Events = progress.Discard
	}
	if cfg.CrawlerVersion == "" {
		cfg.CrawlerVersion = DefaultCrawlerVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, logger: logger.Named("upload")}
}

type uploadGroup struct {
	sourceID string
	version  string
	records  []chunkstore.Record
	slots    []int
}

// Upload sends the given chunks. Unknown ids fail with NOT_FOUND, chunks
// whose content was already uploaded are marked uploaded without a remote
// call and reported as duplicates, and the rest go through the pipeline
// grouped by source and version. Only a malformed request returns an error.
func (s *Service) Upload(ctx context.Context, chunkIDs []string) (Summary, error) {
	if len(chunkIDs) == 0 || len(chunkIDs) > MaxUploadIDs {
		return Summary{}, crawler.NewCodedError(crawler.CodeValidation,
			fmt.Sprintf("upload accepts 1 to %d chunk ids, got %d", MaxUploadIDs, len(chunkIDs)), nil)
	}

	var (
		sum    Summary
		groups []*uploadGroup
		index  = make(map[[2]string]*uploadGroup)
		seen   = make(map[string]bool, len(chunkIDs))
	)
	for _, id := range chunkIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, err := s.cfg.Store.Get(id)
		if err != nil {
			s.record(&sum, "", ChunkResult{ChunkID: id, Status: ItemFailed, Code: crawler.CodeOf(err), Message: err.Error()})
			continue
		}
		if prior, ok := s.cfg.Store.UploadedByHash(rec.Meta.ContentHash); ok {
			if _, err := s.cfg.Store.MarkUploaded(id); err != nil {
				s.logger.Warn("mark duplicate uploaded", zap.String("chunk_id", id), zap.Error(err))
			}
			s.record(&sum, rec.SourceID, ChunkResult{
				ChunkID: id,
				Status:  ItemDuplicate,
				Code:    crawler.CodeDuplicateChunk,
				Message: "content already uploaded as " + prior.ID,
			})
			continue
		}

		key := [2]string{rec.SourceID, rec.Version}
		g, ok := index[key]
		if !ok {
			g = &uploadGroup{sourceID: rec.SourceID, version: rec.Version}
			index[key] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
		g.slots = append(g.slots, len(sum.Results))
		sum.Results = append(sum.Results, ChunkResult{ChunkID: id})
	}

	remoteID := ""
	for _, g := range groups {
		if id := s.uploadGroup(ctx, &sum, g); remoteID == "" {
			remoteID = id
		}
	}
	if remoteID != "" {
		sum.OperationID = remoteID
	}

	s.cfg.Events.Emit(progress.New(progress.KindUploadCompleted, s.cfg.Clock.Now(), "", progress.UploadCompleted{
		OperationID: sum.OperationID,
		Processed:   sum.Processed,
		Failed:      sum.Failed,
		Duplicates:  sum.Duplicates,
	}))
	s.logger.Info("upload finished",
		zap.String("operation_id", sum.OperationID),
		zap.Int("processed", sum.Processed),
		zap.Int("failed", sum.Failed),
		zap.Int("duplicates", sum.Duplicates))
	return sum, nil
}

// UploadPending uploads every pending or failed chunk in calls of at most
// MaxUploadIDs ids.
func (s *Service) UploadPending(ctx context.Context) ([]Summary, error) {
	ids := s.cfg.Store.IDs(chunkstore.StatusPending, chunkstore.StatusFailed)
	var out []Summary
	for start := 0; start < len(ids); start += MaxUploadIDs {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("upload pending: %w", err)
		}
		sum, err := s.Upload(ctx, ids[start:min(start+MaxUploadIDs, len(ids))])
		if err != nil {
			return out, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// uploadGroup runs one source/version group under its own operation and
// returns the remote operation id, if any.
func (s *Service) uploadGroup(ctx context.Context, sum *Summary, g *uploadGroup) string {
	log := s.logger.With(zap.String("source_id", g.sourceID), zap.String("version", g.version))
	opID, err := s.cfg.IDs.NewOperationID()
	if err != nil {
		log.Error("allocate operation id", zap.Error(err))
		for i, rec := range g.records {
			s.apply(sum, g.slots[i], rec, ItemResult{Status: ItemFailed, Error: &ItemError{Code: crawler.CodeInternal, Message: err.Error()}})
		}
		return ""
	}
	sum.Operations = append(sum.Operations, opID)
	if sum.OperationID == "" {
		sum.OperationID = opID
	}

	started := s.cfg.Clock.Now()
	if err := s.cfg.Ops.Start(ctx, oplog.Record{
		OperationID: opID,
		SourceID:    g.sourceID,
		Status:      oplog.StatusProcessing,
		DocsCount:   len(g.records),
		CreatedAt:   started,
		Metadata: oplog.Metadata{
			Version:        g.version,
			Lang:           g.records[0].Lang,
			CrawlerVersion: s.cfg.CrawlerVersion,
		},
	}); err != nil {
		log.Warn("operation log start failed", zap.String("operation_id", opID), zap.Error(err))
	}

	docs := make([]Doc, len(g.records))
	for i, rec := range g.records {
		docs[i] = toDoc(rec)
	}
	res := s.cfg.Pipeline.Upload(ctx, docs, g.sourceID, g.version)

	ok, failed := 0, 0
	for _, r := range res.Results {
		if r.Index < 0 || r.Index >= len(g.records) {
			continue
		}
		if s.apply(sum, g.slots[r.Index], g.records[r.Index], r) {
			ok++
		} else {
			failed++
		}
	}

	status := oplog.StatusCompleted
	if ok == 0 && failed > 0 {
		status = oplog.StatusFailed
	}
	if err := s.cfg.Ops.Complete(ctx, opID, oplog.Completion{
		Status:            status,
		DocsCount:         ok,
		FailedCount:       failed,
		RemoteOperationID: res.OperationID,
		At:                s.cfg.Clock.Now(),
	}); err != nil {
		log.Warn("operation log complete failed", zap.String("operation_id", opID), zap.Error(err))
	}
	return res.OperationID
}

// apply reconciles one remote outcome into the store and the summary. It
// reports whether the chunk ended up uploaded.
func (s *Service) apply(sum *Summary, slot int, rec chunkstore.Record, r ItemResult) bool {
	out := ChunkResult{ChunkID: rec.ID, Status: r.Status, DocID: r.DocID}
	if r.Error != nil {
		out.Code = r.Error.Code
		out.Message = r.Error.Message
	}
	uploaded := r.Status == ItemSuccess || r.Status == ItemDuplicate
	if uploaded {
		if _, err := s.cfg.Store.MarkUploaded(rec.ID); err != nil {
			s.logger.Warn("mark uploaded", zap.String("chunk_id", rec.ID), zap.Error(err))
		}
	} else {
		out.Status = ItemFailed
		if out.Message == "" {
			out.Message = "upload failed"
		}
		if _, err := s.cfg.Store.MarkFailed(rec.ID, out.Message); err != nil {
			s.logger.Warn("mark failed", zap.String("chunk_id", rec.ID), zap.Error(err))
		}
	}
	sum.Results[slot] = out
	s.count(sum, rec.SourceID, out)
	return uploaded
}

// record appends a locally decided result.
func (s *Service) record(sum *Summary, sourceID string, r ChunkResult) {
	sum.Results = append(sum.Results, r)
	s.count(sum, sourceID, r)
}

func (s *Service) count(sum *Summary, sourceID string, r ChunkResult) {
	switch r.Status {
	case ItemSuccess:
		sum.Processed++
	case ItemDuplicate:
		sum.Processed++
		sum.Duplicates++
	default:
		sum.Failed++
	}
	chunkState := string(chunkstore.StatusUploaded)
	if r.Status == ItemFailed {
		chunkState = string(chunkstore.StatusFailed)
	}
	s.cfg.Events.Emit(progress.New(progress.KindChunkStatus, s.cfg.Clock.Now(), sourceID, progress.ChunkStatus{
		ChunkID: r.ChunkID,
		Status:  chunkState,
		Code:    string(r.Code),
		Message: r.Message,
	}))
}

func toDoc(rec chunkstore.Record) Doc {
	return Doc{
		Title:   TitleFor(rec.Title, rec.URL),
		Content: rec.Content,
		URL:     rec.URL,
		Lang:    rec.Lang,
		Version: rec.Version,
		Meta: DocMeta{
			SourceID:    rec.SourceID,
			ContentHash: rec.Meta.ContentHash,
			ChunkIndex:  rec.Meta.ChunkIndex,
			TotalChunks: rec.Meta.TotalChunks,
		},
	}
}
