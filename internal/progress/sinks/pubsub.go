package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/progress"
)

// PubSubSink forwards events to a message bus. Log lines and heartbeats
// stay local unless listed in kinds.
type PubSubSink struct {
	pub   crawler.Publisher
	kinds map[progress.Kind]bool
}

// NewPubSubSink forwards the given kinds, or every kind except log and
// heartbeat when none are given.
func NewPubSubSink(pub crawler.Publisher, kinds ...progress.Kind) *PubSubSink {
	if len(kinds) == 0 {
		kinds = []progress.Kind{
			progress.KindTaskStatus,
			progress.KindChunkStatus,
			progress.KindUploadCompleted,
			progress.KindCrawlProgress,
		}
	}
	set := make(map[progress.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &PubSubSink{pub: pub, kinds: set}
}

// Consume publishes each selected event. All events are attempted; errors are joined.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if !s.kinds[evt.Kind] {
			continue
		}
		if _, err := s.pub.Publish(ctx, string(evt.Kind), evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s event: %w", evt.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the publisher when it supports closing.
func (s *PubSubSink) Close(context.Context) error {
	if c, ok := s.pub.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
