package executor

import (
	"fmt"
	"time"
)

// Status tracks the lifecycle of one tool execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	StatusBlocked   Status = "blocked"
)

// FailureKind is the error taxonomy for execution failures. Callers
// switch on kinds to decide retry policy, never on message strings.
type FailureKind string

const (
	KindValidation        FailureKind = "validation"         // malformed, never partially applied
	KindPermission        FailureKind = "permission"         // terminal, not retried
	KindRateLimit         FailureKind = "rate_limit"         // transient, retry after cool-down
	KindCircuitOpen       FailureKind = "circuit_open"       // transient, retry after next_retry
	KindResourceExhausted FailureKind = "resource_exhausted" // transient, retry after backoff
	KindTimeout           FailureKind = "timeout"            // side effects unknown, treated failed
	KindCompliance        FailureKind = "compliance"         // terminal for the task, counted
	KindInternal          FailureKind = "internal"
)

// Failure is a typed execution error.
type Failure struct {
	Kind    FailureKind
	Stage   string
	Message string
	Cause   error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s at %s: %s: %v", f.Kind, f.Stage, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s at %s: %s", f.Kind, f.Stage, f.Message)
}

// Unwrap implements errors.Unwrap.
func (f *Failure) Unwrap() error { return f.Cause }

// Is matches failures by kind so errors.Is works with sentinel kinds.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation        = &Failure{Kind: KindValidation}
	ErrPermission        = &Failure{Kind: KindPermission}
	ErrRateLimit         = &Failure{Kind: KindRateLimit}
	ErrCircuitOpen       = &Failure{Kind: KindCircuitOpen}
	ErrResourceExhausted = &Failure{Kind: KindResourceExhausted}
	ErrTimeout           = &Failure{Kind: KindTimeout}
	ErrCompliance        = &Failure{Kind: KindCompliance}
)

// Priority of an execution request.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Request asks for one tool execution on behalf of an agent.
type Request struct {
	ID       string            `json:"id"`
	AgentID  string            `json:"agent_id"`
	ToolID   string            `json:"tool_id"`
	Params   map[string]any    `json:"params,omitempty"`
	Priority Priority          `json:"priority,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResourceUsage is the requirement charged for the execution.
type ResourceUsage struct {
	MemoryMB   int     `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// AuditEntry records the outcome of one pipeline stage.
type AuditEntry struct {
	Stage     string         `json:"stage"`
	Outcome   string         `json:"outcome"` // passed | failed
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result is the outcome of one tool execution. The audit trail is always
// populated, success or failure.
type Result struct {
	RequestID   string         `json:"request_id"`
	AgentID     string         `json:"agent_id"`
	ToolID      string         `json:"tool_id"`
	Status      Status         `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   FailureKind    `json:"error_kind,omitempty"`
	FailedStage string         `json:"failed_stage,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Usage       ResourceUsage  `json:"usage"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	AuditTrail  []AuditEntry   `json:"audit_trail"`
}
