package agent

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks one task's lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskPriority orders tasks in the queue. Lower rank dequeues first.
type TaskPriority string

const (
	TaskPriorityCritical TaskPriority = "critical"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityLow      TaskPriority = "low"
)

func priorityRank(p TaskPriority) int {
	switch p {
	case TaskPriorityCritical:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityMedium:
		return 2
	case TaskPriorityLow:
		return 3
	}
	return 3
}

// Task is one unit of work assigned to an agent.
type Task struct {
	ID                   string         `json:"id"`
	AgentID              string         `json:"agent_id"`
	Type                 string         `json:"type"`
	Priority             TaskPriority   `json:"priority"`
	Params               map[string]any `json:"params,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	RequiredTools        []string       `json:"required_tools,omitempty"`
	ComplianceTags       []string       `json:"compliance_tags,omitempty"`
	Deadline             *time.Time     `json:"deadline,omitempty"`
	DependsOn            []string       `json:"depends_on,omitempty"`

	Status      TaskStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	// ExecutionLog is append-only; one line per notable event.
	ExecutionLog []string `json:"execution_log,omitempty"`
}

// NewTask creates a pending task with generated ID and creation time.
func NewTask(taskType string, priority TaskPriority, params map[string]any) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Priority:  priority,
		Params:    params,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// Log appends a timestamped line to the execution log.
func (t *Task) Log(msg string) {
	t.ExecutionLog = append(t.ExecutionLog, time.Now().Format(time.RFC3339)+" "+msg)
}

// Terminal reports whether the task reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}
