// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/datapull/internal/progress"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// Tee returns a logger that also emits every entry at Info or above as a
// log event. The emitter's own logger must not be a teed logger.
func Tee(logger *zap.Logger, em progress.Emitter) *zap.Logger {
	if logger == nil || em == nil {
		return logger
	}
	return logger.WithOptions(zap.Hooks(func(entry zapcore.Entry) error {
		if entry.Level < zapcore.InfoLevel {
			return nil
		}
		em.Emit(progress.New(progress.KindLog, entry.Time.UTC(), "", progress.LogLine{
			Level:   entry.Level.String(),
			Logger:  entry.LoggerName,
			Message: entry.Message,
		}))
		return nil
	}))
}
