package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/progress"
)

// LogSink writes events to a logger at debug level. Log events are skipped
// since they already came from a logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Kind == progress.KindLog {
			continue
		}
		s.logger.Debug("event",
			zap.String("kind", string(evt.Kind)),
			zap.String("source_id", evt.SourceID),
			zap.Time("ts", evt.TS),
			zap.Any("data", evt.Data))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
