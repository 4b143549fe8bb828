// Package agent implements the task runtime: a bounded priority queue,
// a per-agent run loop, compliance gating on intake and output, and
// inter-agent messaging. Agents execute tasks by calling tools through
// the router; they never invoke handlers directly.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/warden/internal/alerting"
	"github.com/nidhogg/warden/internal/bus"
	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/router"
	"go.uber.org/zap"
)

// State is the agent lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateIdle         State = "idle"
	StateSuspended    State = "suspended"
	StateTerminated   State = "terminated"
)

const (
	// suspensionThreshold is the lifetime violation count past which the
	// agent stops accepting work.
	suspensionThreshold = 10
	// errorRateAlertLevel raises a health alert when exceeded.
	errorRateAlertLevel = 0.2
	// footprintMemoryMB and footprintCPUPercent are the per-task admission
	// heuristic. Known approximation; the admission check is soft.
	footprintMemoryMB   = 256
	footprintCPUPercent = 10.0

	defaultTick          = 100 * time.Millisecond
	defaultQueueCap      = 32
	defaultHistoryCap    = 100
	defaultMaxConcurrent = 3
	defaultMailboxCap    = 64
)

// Config describes one agent.
type Config struct {
	ID                 string            `json:"id"`
	Role               string            `json:"role"`
	Capabilities       []string          `json:"capabilities"`
	Constraints        map[string]string `json:"constraints,omitempty"`
	ToolsAllowed       []string          `json:"tools_allowed"`
	MaxMemoryMB        int               `json:"max_memory_mb"`
	MaxCPUPercent      float64           `json:"max_cpu_percent"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks"`
	QueueCapacity      int               `json:"queue_capacity"`
	TickInterval       time.Duration     `json:"-"`
}

// Status is a point-in-time view of an agent.
type Status struct {
	ID          string  `json:"id"`
	Role        string  `json:"role"`
	State       State   `json:"state"`
	QueueLength int     `json:"queue_length"`
	ActiveTasks int     `json:"active_tasks"`
	Metrics     Metrics `json:"metrics"`
}

// Agent owns a task queue and executes tasks against the tool router.
type Agent struct {
	cfg       Config
	router    *router.Router
	evaluator compliance.Evaluator
	bus       bus.Bus
	alerts    *alerting.Dispatcher
	logger    *zap.Logger

	mu      sync.RWMutex
	state   State
	active  map[string]*Task
	history []*Task

	queue   *taskQueue
	metrics *metricsTracker

	// mailbox holds deferred (non-urgent) messages between ticks. Owned
	// by the run goroutine; no lock needed.
	mailbox []*bus.Envelope

	finished chan *Task
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an agent in the INITIALIZING state. alerts may be nil.
func New(cfg Config, rt *router.Router, evaluator compliance.Evaluator, b bus.Bus, alerts *alerting.Dispatcher, logger *zap.Logger) *Agent {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = defaultMaxConcurrent
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCap
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTick
	}
	return &Agent{
		cfg:       cfg,
		router:    rt,
		evaluator: evaluator,
		bus:       b,
		alerts:    alerts,
		logger:    logger.With(zap.String("agent", cfg.ID)),
		state:     StateInitializing,
		active:    make(map[string]*Task),
		queue:     newTaskQueue(cfg.QueueCapacity),
		metrics:   newMetricsTracker(),
		finished:  make(chan *Task, cfg.MaxConcurrentTasks*2),
		done:      make(chan struct{}),
	}
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.cfg.ID }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Status returns a point-in-time snapshot.
func (a *Agent) Status() Status {
	a.mu.RLock()
	state := a.state
	activeCount := len(a.active)
	a.mu.RUnlock()
	return Status{
		ID:          a.cfg.ID,
		Role:        a.cfg.Role,
		State:       state,
		QueueLength: a.queue.Len(),
		ActiveTasks: activeCount,
		Metrics:     a.metrics.Snapshot(),
	}
}

// Start transitions the agent to ACTIVE and launches its run loop.
func (a *Agent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.mu.Lock()
	a.state = StateActive
	a.mu.Unlock()
	a.logger.Info("agent started", zap.String("role", a.cfg.Role))

	var inbox <-chan *bus.Envelope
	if a.bus != nil {
		inbox = a.bus.Subscribe(ctx, a.cfg.ID)
	}
	go a.run(ctx, inbox)
}

// Shutdown terminates the agent. Queued tasks are cancelled; in-flight
// tasks finish but their completions are no longer observed.
func (a *Agent) Shutdown() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.state = StateTerminated
		a.mu.Unlock()
		for _, t := range a.queue.Drain() {
			t.Status = TaskCancelled
			t.Log("cancelled: agent shutdown")
		}
		if a.cancel != nil {
			a.cancel()
			<-a.done
		}
		a.logger.Info("agent terminated")
	})
}

// AssignTask admits a task into the queue. Returns false without
// enqueueing when the agent cannot or must not take it.
func (a *Agent) AssignTask(ctx context.Context, t *Task) bool {
	a.mu.RLock()
	state := a.state
	activeCount := len(a.active)
	a.mu.RUnlock()

	if state == StateSuspended || state == StateTerminated {
		a.logger.Warn("task rejected, agent not accepting work",
			zap.String("task", t.ID), zap.String("state", string(state)))
		return false
	}

	if !subset(t.RequiredCapabilities, a.cfg.Capabilities) {
		a.logger.Warn("task rejected, missing capabilities", zap.String("task", t.ID))
		return false
	}
	if !subset(t.RequiredTools, a.cfg.ToolsAllowed) {
		a.logger.Warn("task rejected, tool outside allow-list", zap.String("task", t.ID))
		return false
	}

	assessment, err := a.evaluator.Evaluate(ctx, compliance.Input{
		AgentID:     a.cfg.ID,
		TaskID:      t.ID,
		Kind:        "task",
		Constraints: t.ComplianceTags,
		Content:     t.Params,
	})
	if err != nil || !assessment.Passed() {
		count := a.metrics.recordViolation()
		a.logger.Warn("task rejected by compliance pre-check",
			zap.String("task", t.ID),
			zap.Float64("score", assessment.Score),
			zap.Int64("violations", count))
		a.maybeSuspend(count)
		return false
	}

	if !a.admitResources(activeCount) {
		a.logger.Warn("task rejected, resource estimate over limits", zap.String("task", t.ID))
		return false
	}

	t.AgentID = a.cfg.ID
	t.Status = TaskPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if !a.queue.Push(t) {
		a.logger.Warn("task rejected, queue full", zap.String("task", t.ID))
		return false
	}
	t.Log("assigned to agent " + a.cfg.ID)
	return true
}

// CanHandle reports whether the agent's capability set and tool
// allow-list cover the task's requirements.
func (a *Agent) CanHandle(t *Task) bool {
	return subset(t.RequiredCapabilities, a.cfg.Capabilities) &&
		subset(t.RequiredTools, a.cfg.ToolsAllowed)
}

// ExecuteTask runs a task synchronously, bypassing the queue. Used by
// coordination strategies that need the result inline. Concurrency and
// lifecycle admission still apply; compliance is checked inside the
// execution itself.
func (a *Agent) ExecuteTask(ctx context.Context, t *Task) *Task {
	a.mu.Lock()
	if a.state == StateSuspended || a.state == StateTerminated {
		a.mu.Unlock()
		a.failTask(t, "agent not accepting work")
		return t
	}
	if len(a.active) >= a.cfg.MaxConcurrentTasks {
		a.mu.Unlock()
		a.failTask(t, "agent at concurrency limit")
		return t
	}
	t.AgentID = a.cfg.ID
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
	t.Log("started")
	a.active[t.ID] = t
	a.mu.Unlock()

	a.executeTask(ctx, t)
	a.onTaskFinished(t)
	return t
}

// admitResources applies the footprint heuristic for one more task.
func (a *Agent) admitResources(activeCount int) bool {
	estMem := (activeCount + 1) * footprintMemoryMB
	estCPU := float64(activeCount+1) * footprintCPUPercent
	if a.cfg.MaxMemoryMB > 0 && estMem > a.cfg.MaxMemoryMB {
		return false
	}
	if a.cfg.MaxCPUPercent > 0 && estCPU > a.cfg.MaxCPUPercent {
		return false
	}
	return true
}

func (a *Agent) maybeSuspend(violations int64) {
	if violations <= suspensionThreshold {
		return
	}
	a.mu.Lock()
	suspended := a.state != StateSuspended && a.state != StateTerminated
	if suspended {
		a.state = StateSuspended
	}
	a.mu.Unlock()
	if suspended {
		a.logger.Error("agent suspended after repeated compliance violations",
			zap.Int64("violations", violations))
		a.notify(alerting.SeverityCritical,
			fmt.Sprintf("agent %s suspended after %d compliance violations", a.cfg.ID, violations))
	}
}

// run is the agent's loop: messages, task starts, completions, health.
func (a *Agent) run(ctx context.Context, inbox <-chan *bus.Envelope) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				inbox = nil
				continue
			}
			// Urgent messages bypass the tick; the rest wait in the
			// mailbox, oldest dropped when it overflows.
			if env.Priority.Urgent() {
				a.handleMessage(ctx, env)
				continue
			}
			a.mailbox = append(a.mailbox, env)
			if len(a.mailbox) > defaultMailboxCap {
				a.mailbox = a.mailbox[1:]
			}
		case t := <-a.finished:
			a.onTaskFinished(t)
		case <-ticker.C:
			for _, env := range a.mailbox {
				a.handleMessage(ctx, env)
			}
			a.mailbox = a.mailbox[:0]
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	a.mu.Lock()
	if a.state == StateSuspended || a.state == StateTerminated {
		a.mu.Unlock()
		return
	}
	free := a.cfg.MaxConcurrentTasks - len(a.active)
	a.mu.Unlock()

	started := 0
	for i := 0; i < free; i++ {
		t := a.queue.Pop()
		if t == nil {
			break
		}
		if !a.startTask(ctx, t) {
			break
		}
		started++
	}

	a.mu.Lock()
	if len(a.active) == 0 && a.queue.Len() == 0 && a.state == StateActive {
		a.state = StateIdle
	} else if (len(a.active) > 0 || started > 0) && a.state == StateIdle {
		a.state = StateActive
	}
	a.mu.Unlock()

	a.healthCheck()
}

// startTask claims a concurrency slot and launches the task. The limit
// is re-checked under the lock that inserts into active, so a concurrent
// ExecuteTask cannot push the agent over it; a task losing the slot goes
// back to the queue.
func (a *Agent) startTask(ctx context.Context, t *Task) bool {
	a.mu.Lock()
	if len(a.active) >= a.cfg.MaxConcurrentTasks {
		a.mu.Unlock()
		a.queue.Push(t)
		return false
	}
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
	t.Log("started")
	a.active[t.ID] = t
	a.mu.Unlock()

	go func() {
		a.executeTask(ctx, t)
		select {
		case a.finished <- t:
		case <-ctx.Done():
		}
	}()
	return true
}

// executeTask re-checks compliance, runs the required tools in declared
// order, and gates the merged result through a post-execution check.
func (a *Agent) executeTask(ctx context.Context, t *Task) {
	assessment, err := a.evaluator.Evaluate(ctx, compliance.Input{
		AgentID:     a.cfg.ID,
		TaskID:      t.ID,
		Kind:        "task",
		Constraints: t.ComplianceTags,
		Content:     t.Params,
	})
	if err != nil || !assessment.Passed() {
		count := a.metrics.recordViolation()
		a.failTask(t, "task failed compliance re-check")
		a.maybeSuspend(count)
		return
	}

	result := make(map[string]any)
	for _, toolID := range t.RequiredTools {
		res := a.router.Route(ctx, &executor.Request{
			AgentID:  a.cfg.ID,
			ToolID:   toolID,
			Params:   t.Params,
			Priority: executor.Priority(t.Priority),
		})
		t.Log(fmt.Sprintf("tool %s: %s", toolID, res.Status))
		if res.Status != executor.StatusCompleted {
			a.failTask(t, fmt.Sprintf("tool %s failed at %s: %s", toolID, res.FailedStage, res.Error))
			return
		}
		result[toolID] = res.Output
	}

	post, err := a.evaluator.Evaluate(ctx, compliance.Input{
		AgentID:     a.cfg.ID,
		TaskID:      t.ID,
		Kind:        "output",
		Constraints: t.ComplianceTags,
		Content:     result,
	})
	if err != nil || !post.Passed() {
		count := a.metrics.recordViolation()
		a.failTask(t, "output failed compliance check")
		a.maybeSuspend(count)
		return
	}

	now := time.Now()
	t.Status = TaskCompleted
	t.Result = result
	t.CompletedAt = &now
	t.Log("completed")
}

func (a *Agent) failTask(t *Task, reason string) {
	now := time.Now()
	t.Status = TaskFailed
	t.Error = reason
	t.CompletedAt = &now
	t.Log("failed: " + reason)
}

func (a *Agent) onTaskFinished(t *Task) {
	a.mu.Lock()
	delete(a.active, t.ID)
	a.history = append(a.history, t)
	if len(a.history) > defaultHistoryCap {
		a.history = a.history[len(a.history)-defaultHistoryCap:]
	}
	a.mu.Unlock()

	var duration time.Duration
	if t.StartedAt != nil && t.CompletedAt != nil {
		duration = t.CompletedAt.Sub(*t.StartedAt)
	}
	a.metrics.recordCompletion(t.Status != TaskCompleted, duration)
	a.logger.Debug("task finished",
		zap.String("task", t.ID),
		zap.String("status", string(t.Status)))
}

func (a *Agent) healthCheck() {
	s := a.metrics.Snapshot()
	if s.ErrorRate > errorRateAlertLevel && s.TasksCompleted+s.TasksFailed > 0 {
		a.notify(alerting.SeverityWarning,
			fmt.Sprintf("agent %s error rate %.0f%% over recent tasks", a.cfg.ID, s.ErrorRate*100))
	}
	a.maybeSuspend(s.ComplianceViolations)
}

func (a *Agent) handleMessage(ctx context.Context, env *bus.Envelope) {
	a.logger.Debug("message received",
		zap.String("from", env.From),
		zap.String("type", string(env.Type)),
		zap.String("priority", string(env.Priority)))

	switch env.Type {
	case bus.TypeEmergencyShutdown:
		go a.Shutdown()
	case bus.TypeWorkflowCancelled:
		a.cancelQueuedForWorkflow(env.Payload)
	case bus.TypeTaskDelegation:
		t := taskFromPayload(env.Payload)
		if t != nil {
			a.AssignTask(ctx, t)
		}
	case bus.TypeStatusInquiry:
		a.replyStatus(ctx, env.From)
	case bus.TypeCoordinationRequest:
		// Acknowledged implicitly; the orchestrator assigns work through
		// task delegation.
	}
}

func (a *Agent) cancelQueuedForWorkflow(payload map[string]any) {
	workflowID, _ := payload["workflow_id"].(string)
	kept := make([]*Task, 0)
	for _, t := range a.queue.Drain() {
		if workflowID == "" || t.Params["workflow_id"] == workflowID {
			t.Status = TaskCancelled
			t.Log("cancelled: workflow cancelled")
			continue
		}
		kept = append(kept, t)
	}
	for _, t := range kept {
		a.queue.Push(t)
	}
}

func (a *Agent) replyStatus(ctx context.Context, to string) {
	if a.bus == nil || to == "" {
		return
	}
	s := a.Status()
	_ = a.bus.Publish(ctx, &bus.Envelope{
		From:     a.cfg.ID,
		To:       to,
		Type:     bus.TypeStatusInquiry,
		Priority: bus.PriorityLow,
		Payload: map[string]any{
			"state":        string(s.State),
			"queue_length": s.QueueLength,
			"active_tasks": s.ActiveTasks,
		},
	})
}

func (a *Agent) notify(sev alerting.Severity, msg string) {
	if a.alerts != nil {
		a.alerts.Notify(sev, "agent", msg)
	}
}

func taskFromPayload(payload map[string]any) *Task {
	taskType, _ := payload["type"].(string)
	if taskType == "" {
		return nil
	}
	params, _ := payload["params"].(map[string]any)
	t := NewTask(taskType, TaskPriorityMedium, params)
	if p, ok := payload["priority"].(string); ok {
		t.Priority = TaskPriority(p)
	}
	if tools, ok := payload["required_tools"].([]any); ok {
		for _, v := range tools {
			if s, ok := v.(string); ok {
				t.RequiredTools = append(t.RequiredTools, s)
			}
		}
	}
	return t
}

func subset(needed, available []string) bool {
	if len(needed) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(available))
	for _, s := range available {
		set[s] = struct{}{}
	}
	for _, s := range needed {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
