package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/datapull/internal/progress"
)

// PrometheusSink turns feed events into counters and gauges.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	chunkStatus   *prometheus.CounterVec
	uploadedDocs  *prometheus.CounterVec
	crawlsRunning prometheus.Gauge
	goroutines    prometheus.Gauge
	heapBytes     prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapull_events_total",
			Help: "Feed events by kind.",
		}, []string{"kind"}),
		chunkStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapull_chunk_status_total",
			Help: "Chunk status updates by status and code.",
		}, []string{"status", "code"}),
		uploadedDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapull_upload_docs_total",
			Help: "Documents reported by completed uploads, by outcome.",
		}, []string{"outcome"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datapull_crawl_sources_running",
			Help: "Sources in the currently running crawl task.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datapull_heartbeat_goroutines",
			Help: "Goroutines at the last heartbeat.",
		}),
		heapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datapull_heartbeat_heap_bytes",
			Help: "Heap bytes in use at the last heartbeat.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.chunkStatus,
		s.uploadedDocs,
		s.crawlsRunning,
		s.goroutines,
		s.heapBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Kind)).Inc()
		switch data := evt.Data.(type) {
		case progress.ChunkStatus:
			s.chunkStatus.WithLabelValues(data.Status, data.Code).Inc()
		case progress.UploadCompleted:
			s.uploadedDocs.WithLabelValues("processed").Add(float64(data.Processed))
			s.uploadedDocs.WithLabelValues("failed").Add(float64(data.Failed))
			s.uploadedDocs.WithLabelValues("duplicate").Add(float64(data.Duplicates))
		case progress.TaskStatus:
			if data.State == progress.TaskRunning {
				s.crawlsRunning.Set(float64(len(data.Sources)))
			} else {
				s.crawlsRunning.Set(0)
			}
		case progress.Heartbeat:
			s.goroutines.Set(float64(data.Goroutines))
			s.heapBytes.Set(float64(data.HeapBytes))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
