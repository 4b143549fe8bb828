package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// WorkflowState is the workflow lifecycle state.
type WorkflowState string

const (
	WorkflowInitiated     WorkflowState = "initiated"
	WorkflowPlanning      WorkflowState = "planning"
	WorkflowAgentCreation WorkflowState = "agent_creation"
	WorkflowExecution     WorkflowState = "execution"
	WorkflowValidation    WorkflowState = "validation"
	WorkflowApproval      WorkflowState = "approval"
	WorkflowCompleted     WorkflowState = "completed"
	WorkflowFailed        WorkflowState = "failed"
	WorkflowCancelled     WorkflowState = "cancelled"
)

// validTransitions is the workflow state machine. Failed and cancelled
// are reachable from every non-terminal state.
var validTransitions = map[WorkflowState][]WorkflowState{
	WorkflowInitiated:     {WorkflowPlanning, WorkflowFailed, WorkflowCancelled},
	WorkflowPlanning:      {WorkflowAgentCreation, WorkflowFailed, WorkflowCancelled},
	WorkflowAgentCreation: {WorkflowExecution, WorkflowFailed, WorkflowCancelled},
	WorkflowExecution:     {WorkflowValidation, WorkflowFailed, WorkflowCancelled},
	WorkflowValidation:    {WorkflowApproval, WorkflowFailed, WorkflowCancelled},
	WorkflowApproval:      {WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
	WorkflowCompleted:     {},
	WorkflowFailed:        {},
	WorkflowCancelled:     {},
}

// Terminal reports whether the state is final.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// Step is one planned workflow step.
type Step struct {
	Name              string        `json:"name"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Workflow is a multi-step, possibly multi-agent unit of work. It is
// owned by the orchestrator and mutated only by its driver goroutine;
// readers go through snapshot methods.
type Workflow struct {
	mu sync.RWMutex

	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Requirements   map[string]any     `json:"requirements"`
	Strategy       Strategy           `json:"strategy"`
	Priority       string             `json:"priority,omitempty"`
	State          WorkflowState      `json:"state"`
	Steps          []Step             `json:"steps"`
	CurrentStep    int                `json:"current_step"`
	AssignedAgents []string           `json:"assigned_agents,omitempty"`
	Artifacts      []string           `json:"artifacts,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	ErrorLog       []string           `json:"error_log,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	EstimatedDone  *time.Time         `json:"estimated_done,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// transition moves the workflow to next, enforcing the transition graph.
func (w *Workflow) transition(next WorkflowState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, allowed := range validTransitions[w.State] {
		if allowed == next {
			w.State = next
			if next.Terminal() {
				now := time.Now()
				w.CompletedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("invalid workflow transition %s -> %s", w.State, next)
}

// advanceStep moves the step cursor forward. It never decreases.
func (w *Workflow) advanceStep() {
	w.mu.Lock()
	w.CurrentStep++
	w.mu.Unlock()
}

func (w *Workflow) appendError(msg string) {
	w.mu.Lock()
	w.ErrorLog = append(w.ErrorLog, time.Now().Format(time.RFC3339)+" "+msg)
	w.mu.Unlock()
}

func (w *Workflow) setMetric(name string, value float64) {
	w.mu.Lock()
	if w.Metrics == nil {
		w.Metrics = make(map[string]float64)
	}
	w.Metrics[name] = value
	w.mu.Unlock()
}

func (w *Workflow) assignAgent(agentID string) {
	w.mu.Lock()
	w.AssignedAgents = append(w.AssignedAgents, agentID)
	w.mu.Unlock()
}

// StateSnapshot returns the current state under the read lock.
func (w *Workflow) StateSnapshot() WorkflowState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.State
}

// Snapshot is a copyable view of a workflow for API responses.
type Snapshot struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Strategy       Strategy           `json:"strategy"`
	State          WorkflowState      `json:"state"`
	Steps          []Step             `json:"steps"`
	CurrentStep    int                `json:"current_step"`
	AssignedAgents []string           `json:"assigned_agents,omitempty"`
	Artifacts      []string           `json:"artifacts,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	ErrorLog       []string           `json:"error_log,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	EstimatedDone  *time.Time         `json:"estimated_done,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// Snapshot copies the workflow's observable fields.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Snapshot{
		ID:            w.ID,
		Name:          w.Name,
		Strategy:      w.Strategy,
		State:         w.State,
		CurrentStep:   w.CurrentStep,
		StartedAt:     w.StartedAt,
		EstimatedDone: w.EstimatedDone,
		CompletedAt:   w.CompletedAt,
	}
	s.Steps = append(s.Steps, w.Steps...)
	s.AssignedAgents = append(s.AssignedAgents, w.AssignedAgents...)
	s.Artifacts = append(s.Artifacts, w.Artifacts...)
	s.ErrorLog = append(s.ErrorLog, w.ErrorLog...)
	if len(w.Metrics) > 0 {
		s.Metrics = make(map[string]float64, len(w.Metrics))
		for k, v := range w.Metrics {
			s.Metrics[k] = v
		}
	}
	return s
}
