// Package alerting fans operational alerts out to delivery channels
// (Slack, Discord, the structured log). Delivery is best-effort: a failed
// notifier is logged and never fails the caller.
package alerting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operational notification.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers an alert to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// Dispatcher fans alerts out to all registered notifiers.
type Dispatcher struct {
	notifiers map[string]Notifier
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
}

// Register adds a notifier.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
	d.logger.Info("registered alert notifier", zap.String("name", n.Name()))
}

// Notifiers returns the names of registered notifiers.
func (d *Dispatcher) Notifiers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for n := range d.notifiers {
		names = append(names, n)
	}
	return names
}

// Notify delivers the alert to every notifier. Best-effort and
// non-blocking for the caller beyond a short per-notifier timeout.
func (d *Dispatcher) Notify(severity Severity, component, message string) {
	alert := Alert{
		Severity:  severity,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}

	d.mu.RLock()
	targets := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		targets = append(targets, n)
	}
	d.mu.RUnlock()

	for _, n := range targets {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := n.Notify(ctx, alert); err != nil {
				d.logger.Warn("alert delivery failed",
					zap.String("notifier", n.Name()),
					zap.String("component", component),
					zap.Error(err))
			}
		}(n)
	}
}
