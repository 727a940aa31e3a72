package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger. Debug lowers the level
// so per-plant probabilities are emitted.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and cycle identifiers.
func WithOperation(logger *zap.Logger, operation, cycleID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if cycleID != "" {
		fields = append(fields, zap.String("cycle_id", cycleID))
	}
	return logger.With(fields...)
}

// WithPlant scopes logger to one plant, keeping the status it had when the cycle listed it.
func WithPlant(logger *zap.Logger, plantID int64, status string) *zap.Logger {
	return logger.With(zap.Int64("plant_id", plantID), zap.String("status", status))
}
