package alerting

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to the structured log. Always registered so
// alerts are visible even with no external channel configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("component", alert.Component),
		zap.String("message", alert.Message),
	}
	switch alert.Severity {
	case SeverityCritical:
		n.logger.Error("alert", fields...)
	case SeverityWarning:
		n.logger.Warn("alert", fields...)
	default:
		n.logger.Info("alert", fields...)
	}
	return nil
}
