package events

import (
	"context"

	"go.uber.org/zap"
)

// LogEmitter writes events to the log. Used in development and when no bus is configured.
type LogEmitter struct {
	log *zap.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(log *zap.Logger) *LogEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogEmitter{log: log.With(zap.String("module", "events"))}
}

// EmitEventEnvelope logs the envelope.
func (e *LogEmitter) EmitEventEnvelope(_ context.Context, envelope *EventEnvelope) (string, error) {
	e.log.Info("event",
		zap.String("event_id", envelope.ID),
		zap.String("event_type", envelope.Type),
		zap.ByteString("payload", envelope.Payload),
	)
	return envelope.ID, nil
}

// Close is a no-op.
func (e *LogEmitter) Close() error { return nil }
