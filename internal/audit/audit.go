// Package audit delivers structured control-plane events to pluggable
// sinks. Recording is fire-and-forget: a sink failure never fails the
// operation that produced the event.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event is one structured audit record.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Stage     string         `json:"stage"`
	Actor     string         `json:"actor"`
	Subject   string         `json:"subject,omitempty"`
	Outcome   string         `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a zap-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, ev Event) error {
	s.logger.Info("audit",
		zap.String("stage", ev.Stage),
		zap.String("actor", ev.Actor),
		zap.String("subject", ev.Subject),
		zap.String("outcome", ev.Outcome),
		zap.Time("at", ev.Timestamp))
	return nil
}

// NopSink discards events. Used in tests.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }
