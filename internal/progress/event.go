package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind names an event type on the feed.
type Kind string

// Event kinds.
const (
	KindTaskStatus      Kind = "task.status"
	KindChunkStatus     Kind = "chunk.status"
	KindLog             Kind = "log"
	KindUploadCompleted Kind = "upload.completed"
	KindHeartbeat       Kind = "heartbeat"
	KindCrawlProgress   Kind = "crawl.progress"
)

// Event is one entry on the feed. Data holds the payload type matching Kind.
type Event struct {
	Kind     Kind      `json:"type"`
	TS       time.Time `json:"ts"`
	SourceID string    `json:"sourceId,omitempty"`
	Data     any       `json:"data"`
}

// Task states.
const (
	TaskIdle    = "idle"
	TaskRunning = "running"
)

// TaskStatus is the crawl-level state.
type TaskStatus struct {
	State     string     `json:"state"`
	Sources   []string   `json:"sources,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// ChunkStatus reports one chunk's outcome.
type ChunkStatus struct {
	ChunkID string `json:"chunkId"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// LogLine mirrors a log entry.
type LogLine struct {
	Level   string `json:"level"`
	Logger  string `json:"logger,omitempty"`
	Message string `json:"message"`
}

// UploadCompleted summarizes one upload operation.
type UploadCompleted struct {
	OperationID string `json:"operationId"`
	Processed   int    `json:"processed"`
	Failed      int    `json:"failed"`
	Duplicates  int    `json:"duplicates"`
}

// Heartbeat carries a best-effort process status.
type Heartbeat struct {
	Goroutines    int     `json:"goroutines"`
	HeapBytes     uint64  `json:"heapBytes"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// CrawlProgress reports scheduler progress within a wave.
type CrawlProgress struct {
	Depth     int `json:"depth"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Fetched   int `json:"fetched"`
}

// New builds an event stamped at ts.
func New(kind Kind, ts time.Time, sourceID string, data any) Event {
	return Event{Kind: kind, TS: ts, SourceID: sourceID, Data: data}
}

// Validate checks that the payload matches the kind.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	var ok bool
	switch e.Kind {
	case KindTaskStatus:
		_, ok = e.Data.(TaskStatus)
	case KindChunkStatus:
		var cs ChunkStatus
		cs, ok = e.Data.(ChunkStatus)
		if ok && cs.ChunkID == "" {
			return errors.New("chunk status requires chunk id")
		}
	case KindLog:
		_, ok = e.Data.(LogLine)
	case KindUploadCompleted:
		_, ok = e.Data.(UploadCompleted)
	case KindHeartbeat:
		_, ok = e.Data.(Heartbeat)
	case KindCrawlProgress:
		_, ok = e.Data.(CrawlProgress)
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("event %s has payload %T", e.Kind, e.Data)
	}
	return nil
}
