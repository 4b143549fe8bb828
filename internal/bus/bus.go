// Package bus carries inter-agent messages. Delivery is asynchronous,
// at-most-once, and best-effort: under pressure the oldest queued message
// for a recipient is dropped, never the sender blocked.
package bus

import (
	"context"
	"time"
)

// MessageType identifies the kinds of control messages agents exchange.
type MessageType string

const (
	TypeCoordinationRequest MessageType = "coordination_request"
	TypeTaskDelegation      MessageType = "task_delegation"
	TypeStatusInquiry       MessageType = "status_inquiry"
	TypeEmergencyShutdown   MessageType = "emergency_shutdown"
	TypeWorkflowCancelled   MessageType = "workflow_cancelled"
)

// Priority of a message. Critical and high are processed immediately on
// receipt rather than on the next run-loop tick.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Urgent reports whether the priority requires immediate processing.
func (p Priority) Urgent() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// Envelope is one inter-agent message.
type Envelope struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bus transports envelopes between agents.
type Bus interface {
	// Publish delivers the envelope to its recipient's stream. Best-effort.
	Publish(ctx context.Context, env *Envelope) error
	// Subscribe returns the recipient's delivery channel. Cancel the
	// context to stop; the channel is closed on stop.
	Subscribe(ctx context.Context, agentID string) <-chan *Envelope
	// Close releases transport resources.
	Close() error
}
