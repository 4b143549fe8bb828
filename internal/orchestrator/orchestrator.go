// Package orchestrator owns the agent pool and drives multi-step
// workflows through their state machine. Each workflow is mutated by a
// single driver goroutine; failed steps fail the workflow fast.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/warden/internal/agent"
	"github.com/nidhogg/warden/internal/alerting"
	"github.com/nidhogg/warden/internal/audit"
	"github.com/nidhogg/warden/internal/bus"
	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/router"
	"go.uber.org/zap"
)

// WorkflowStore persists terminal workflow snapshots. Optional.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, s Snapshot) error
}

// WorkflowRequest initiates a workflow. Tasks and AgentSpecs are
// optional; defaults are derived from the requirements.
type WorkflowRequest struct {
	Name         string         `json:"name"`
	Requirements map[string]any `json:"requirements"`
	Strategy     Strategy       `json:"strategy,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	AgentSpecs   []agent.Config `json:"agent_specs,omitempty"`
	Tasks        []*agent.Task  `json:"tasks,omitempty"`
}

// Orchestrator is the control plane root: agent pool plus workflow
// lifecycle management.
type Orchestrator struct {
	router    *router.Router
	evaluator compliance.Evaluator
	bus       bus.Bus
	alerts    *alerting.Dispatcher
	sink      audit.Sink
	store     WorkflowStore
	logger    *zap.Logger

	mu        sync.RWMutex
	agents    map[string]*agent.Agent
	active    map[string]*Workflow
	completed *completedRing
	defaults  agent.Config

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. alerts, sink, and store may be nil.
func New(
	rt *router.Router,
	evaluator compliance.Evaluator,
	b bus.Bus,
	alerts *alerting.Dispatcher,
	sink audit.Sink,
	store WorkflowStore,
	logger *zap.Logger,
) *Orchestrator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		router:    rt,
		evaluator: evaluator,
		bus:       b,
		alerts:    alerts,
		sink:      sink,
		store:     store,
		logger:    logger,
		agents:    make(map[string]*agent.Agent),
		active:    make(map[string]*Workflow),
		completed: newCompletedRing(100),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// workflowSteps is the fixed step pipeline. Estimated durations feed
// ETA display only.
var workflowSteps = []Step{
	{Name: "requirement_analysis", EstimatedDuration: 5 * time.Second},
	{Name: "agent_creation", EstimatedDuration: 2 * time.Second},
	{Name: "task_dispatch", EstimatedDuration: 30 * time.Second},
	{Name: "validation", EstimatedDuration: 5 * time.Second},
	{Name: "final_review", EstimatedDuration: 5 * time.Second},
}

// InitiateWorkflow validates the request, registers the workflow, and
// starts its driver. A malformed request creates nothing.
func (o *Orchestrator) InitiateWorkflow(req *WorkflowRequest) (Snapshot, error) {
	if req == nil || req.Name == "" {
		return Snapshot{}, fmt.Errorf("workflow name is required")
	}
	if len(req.Requirements) == 0 {
		return Snapshot{}, fmt.Errorf("workflow requirements are required")
	}
	if req.Strategy == "" {
		req.Strategy = StrategySequential
	}
	if !req.Strategy.Valid() {
		return Snapshot{}, fmt.Errorf("unknown coordination strategy %q", req.Strategy)
	}

	w := &Workflow{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Requirements: req.Requirements,
		Strategy:     req.Strategy,
		Priority:     req.Priority,
		State:        WorkflowInitiated,
		Steps:        workflowSteps,
		StartedAt:    time.Now(),
	}
	var estimate time.Duration
	for _, s := range workflowSteps {
		estimate += s.EstimatedDuration
	}
	eta := w.StartedAt.Add(estimate)
	w.EstimatedDone = &eta

	o.mu.Lock()
	o.active[w.ID] = w
	o.mu.Unlock()

	o.record("workflow_initiated", w.ID, string(w.State), nil)
	o.logger.Info("workflow initiated",
		zap.String("workflow", w.ID),
		zap.String("name", w.Name),
		zap.String("strategy", string(w.Strategy)))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.drive(w, req)
	}()
	return w.Snapshot(), nil
}

// drive is the single goroutine advancing one workflow to a terminal
// state.
func (o *Orchestrator) drive(w *Workflow, req *WorkflowRequest) {
	ctx := o.baseCtx

	fail := func(step, msg string) {
		w.appendError(fmt.Sprintf("step %s: %s", step, msg))
		if err := w.transition(WorkflowFailed); err != nil {
			// Already terminal (cancelled while running); keep that state.
			return
		}
		o.finish(w)
		o.notify(alerting.SeverityWarning,
			fmt.Sprintf("workflow %s failed at %s: %s", w.ID, step, msg))
	}

	// Planning: derive the task set.
	if err := w.transition(WorkflowPlanning); err != nil {
		return
	}
	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = tasksFromRequirements(req.Requirements)
	}
	if len(tasks) == 0 {
		fail("requirement_analysis", "no tasks could be derived")
		return
	}
	w.advanceStep()

	// Agent creation.
	if err := w.transition(WorkflowAgentCreation); err != nil {
		return
	}
	specs := req.AgentSpecs
	if len(specs) == 0 {
		specs = defaultAgentSpecs(tasks)
	}
	for _, spec := range specs {
		a, err := o.CreateAgent(spec)
		if err != nil {
			fail("agent_creation", err.Error())
			return
		}
		w.assignAgent(a.ID())
	}
	w.advanceStep()

	// Execution: coordinate the task set across the pool.
	if err := w.transition(WorkflowExecution); err != nil {
		return
	}
	plan, err := o.buildPlan(&CoordinationRequest{
		WorkflowID: w.ID,
		Strategy:   w.Strategy,
		Tasks:      tasks,
	})
	if err != nil {
		fail("task_dispatch", err.Error())
		return
	}
	result := o.executePlan(ctx, plan, tasks)
	w.advanceStep()

	// Validation: every task must have completed.
	if err := w.transition(WorkflowValidation); err != nil {
		return
	}
	completedCount := 0
	for id, tr := range result.Tasks {
		if tr.Status == agent.TaskCompleted {
			completedCount++
			w.mu.Lock()
			w.Artifacts = append(w.Artifacts, id)
			w.mu.Unlock()
		} else {
			w.appendError(fmt.Sprintf("task %s: %s", id, tr.Error))
		}
	}
	w.setMetric("tasks_total", float64(len(result.Tasks)))
	w.setMetric("tasks_completed", float64(completedCount))
	if !result.Succeeded {
		fail("validation", fmt.Sprintf("%d of %d tasks completed", completedCount, len(result.Tasks)))
		return
	}
	w.advanceStep()

	// Approval: final review of the aggregate.
	if err := w.transition(WorkflowApproval); err != nil {
		return
	}
	assessment, err := o.evaluator.Evaluate(ctx, compliance.Input{
		Kind:    "output",
		Content: map[string]any{"workflow": w.Name, "artifacts": completedCount},
	})
	if err != nil || !assessment.Passed() {
		fail("final_review", "aggregate output failed compliance review")
		return
	}
	w.setMetric("compliance_score", assessment.Score)
	w.advanceStep()

	if err := w.transition(WorkflowCompleted); err != nil {
		return
	}
	o.finish(w)
	o.logger.Info("workflow completed",
		zap.String("workflow", w.ID),
		zap.Int("tasks", len(result.Tasks)))
}

// finish moves a terminal workflow to the completed ring and persists
// its snapshot.
func (o *Orchestrator) finish(w *Workflow) {
	o.mu.Lock()
	delete(o.active, w.ID)
	o.mu.Unlock()
	o.completed.Add(w)

	snap := w.Snapshot()
	o.record("workflow_terminal", w.ID, string(snap.State), map[string]any{
		"errors": len(snap.ErrorLog),
	})
	if o.store != nil {
		if err := o.store.SaveWorkflow(context.Background(), snap); err != nil {
			o.logger.Warn("workflow persistence failed",
				zap.String("workflow", w.ID), zap.Error(err))
		}
	}
}

// GetWorkflowStatus returns a snapshot of an active or completed
// workflow.
func (o *Orchestrator) GetWorkflowStatus(id string) (Snapshot, bool) {
	o.mu.RLock()
	w, ok := o.active[id]
	o.mu.RUnlock()
	if !ok {
		w, ok = o.completed.Get(id)
	}
	if !ok {
		return Snapshot{}, false
	}
	return w.Snapshot(), true
}

// ListWorkflows returns snapshots of all known workflows, active first.
func (o *Orchestrator) ListWorkflows() []Snapshot {
	o.mu.RLock()
	out := make([]Snapshot, 0, len(o.active))
	for _, w := range o.active {
		out = append(out, w.Snapshot())
	}
	o.mu.RUnlock()
	for _, w := range o.completed.List() {
		out = append(out, w.Snapshot())
	}
	return out
}

// CancelWorkflow cancels an active workflow and notifies its agents.
// Cancelling a terminal workflow is a no-op returning success.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, id string) error {
	o.mu.RLock()
	w, ok := o.active[id]
	o.mu.RUnlock()
	if !ok {
		if _, done := o.completed.Get(id); done {
			return nil
		}
		return fmt.Errorf("unknown workflow %q", id)
	}
	if w.StateSnapshot().Terminal() {
		return nil
	}
	if err := w.transition(WorkflowCancelled); err != nil {
		// Lost the race against the driver reaching a terminal state.
		return nil
	}

	// Best-effort notification; no acknowledgement awaited.
	if o.bus != nil {
		snap := w.Snapshot()
		for _, agentID := range snap.AssignedAgents {
			_ = o.bus.Publish(ctx, &bus.Envelope{
				From:     "orchestrator",
				To:       agentID,
				Type:     bus.TypeWorkflowCancelled,
				Priority: bus.PriorityHigh,
				Payload:  map[string]any{"workflow_id": id},
			})
		}
	}
	o.finish(w)
	o.logger.Info("workflow cancelled", zap.String("workflow", id))
	return nil
}

// CoordinateMultiAgentTask plans and executes a task set outside any
// workflow.
func (o *Orchestrator) CoordinateMultiAgentTask(ctx context.Context, req *CoordinationRequest) (*CoordinationResult, error) {
	if req == nil || len(req.Tasks) == 0 {
		return nil, fmt.Errorf("coordination request needs at least one task")
	}
	if req.Strategy == "" {
		req.Strategy = StrategySequential
	}
	if !req.Strategy.Valid() {
		return nil, fmt.Errorf("unknown coordination strategy %q", req.Strategy)
	}
	plan, err := o.buildPlan(req)
	if err != nil {
		return nil, err
	}
	return o.executePlan(ctx, plan, req.Tasks), nil
}

// SetAgentDefaults sets pool-wide resource limits applied to agents
// created without explicit ones. Call before serving requests.
func (o *Orchestrator) SetAgentDefaults(d agent.Config) {
	o.defaults = d
}

// CreateAgent adds an agent to the pool and starts its run loop.
func (o *Orchestrator) CreateAgent(cfg agent.Config) (*agent.Agent, error) {
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = o.defaults.MaxMemoryMB
	}
	if cfg.MaxCPUPercent == 0 {
		cfg.MaxCPUPercent = o.defaults.MaxCPUPercent
	}
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = o.defaults.MaxConcurrentTasks
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = o.defaults.QueueCapacity
	}
	a := agent.New(cfg, o.router, o.evaluator, o.bus, o.alerts, o.logger)

	o.mu.Lock()
	if _, exists := o.agents[a.ID()]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("agent %q already exists", a.ID())
	}
	o.agents[a.ID()] = a
	o.mu.Unlock()

	a.Start(o.baseCtx)
	o.record("agent_created", a.ID(), "active", map[string]any{"role": cfg.Role})
	return a, nil
}

// GetAgentStatus returns an agent's snapshot.
func (o *Orchestrator) GetAgentStatus(id string) (agent.Status, bool) {
	a, ok := o.agentByID(id)
	if !ok {
		return agent.Status{}, false
	}
	return a.Status(), true
}

// ListAgents returns the status of every agent in the pool.
func (o *Orchestrator) ListAgents() []agent.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]agent.Status, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a.Status())
	}
	return out
}

// ShutdownAgent terminates an agent and removes it from the pool.
func (o *Orchestrator) ShutdownAgent(id string) error {
	o.mu.Lock()
	a, ok := o.agents[id]
	if ok {
		delete(o.agents, id)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	a.Shutdown()
	o.record("agent_shutdown", id, "terminated", nil)
	return nil
}

// Shutdown stops all workflows and agents.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()

	o.mu.Lock()
	agents := make([]*agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, a)
	}
	o.agents = make(map[string]*agent.Agent)
	o.mu.Unlock()
	for _, a := range agents {
		a.Shutdown()
	}
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) agentByID(id string) (*agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[id]
	return a, ok
}

// eligibleAgent returns the first pool agent able to handle the task.
func (o *Orchestrator) eligibleAgent(t *agent.Task) *agent.Agent {
	agents := o.eligibleAgents(t)
	if len(agents) == 0 {
		return nil
	}
	return agents[0]
}

// eligibleAgents returns every pool agent able to handle the task.
func (o *Orchestrator) eligibleAgents(t *agent.Task) []*agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range o.agents {
		if a.State() == agent.StateSuspended || a.State() == agent.StateTerminated {
			continue
		}
		if a.CanHandle(t) {
			out = append(out, a)
		}
	}
	return out
}

func (o *Orchestrator) record(stage, subject, outcome string, detail map[string]any) {
	_ = o.sink.Record(context.Background(), audit.Event{
		Stage:     stage,
		Actor:     "orchestrator",
		Subject:   subject,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) notify(sev alerting.Severity, msg string) {
	if o.alerts != nil {
		o.alerts.Notify(sev, "orchestrator", msg)
	}
}

// tasksFromRequirements derives one analysis task per requirement entry.
func tasksFromRequirements(requirements map[string]any) []*agent.Task {
	var tasks []*agent.Task
	for key, value := range requirements {
		t := agent.NewTask("requirement_analysis", agent.TaskPriorityMedium, map[string]any{
			"requirement": key,
			"value":       value,
		})
		tasks = append(tasks, t)
	}
	return tasks
}

// defaultAgentSpecs produces one analyst agent covering the task set's
// tool requirements.
func defaultAgentSpecs(tasks []*agent.Task) []agent.Config {
	toolSet := make(map[string]struct{})
	capSet := make(map[string]struct{})
	for _, t := range tasks {
		for _, id := range t.RequiredTools {
			toolSet[id] = struct{}{}
		}
		for _, c := range t.RequiredCapabilities {
			capSet[c] = struct{}{}
		}
	}
	cfg := agent.Config{
		ID:   "analyst-" + uuid.New().String()[:8],
		Role: "policy_analyst",
	}
	for id := range toolSet {
		cfg.ToolsAllowed = append(cfg.ToolsAllowed, id)
	}
	for c := range capSet {
		cfg.Capabilities = append(cfg.Capabilities, c)
	}
	return []agent.Config{cfg}
}
