package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/warden/internal/agent"
	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/guard"
	"github.com/nidhogg/warden/internal/router"
	"github.com/nidhogg/warden/internal/tool"
	"go.uber.org/zap"
)

type fixedEvaluator struct {
	score float64
}

func (f *fixedEvaluator) Evaluate(context.Context, compliance.Input) (compliance.Assessment, error) {
	return compliance.Assessment{Score: f.score}, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	reg := tool.NewRegistry(logger)
	err := reg.Register(&tool.Definition{
		ID:               "echo",
		Name:             "Echo",
		Safety:           tool.SafetyLow,
		InputShape:       map[string]string{"message": "string"},
		RateLimitPerHour: 1000,
		MaxExecutionTime: 5 * time.Second,
	}, tool.HandlerFunc(func(_ context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"message": params["message"]}, nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := executor.New(
		guard.NewRateLimiter(),
		guard.NewCircuitBreaker(guard.DefaultFailureThreshold, guard.DefaultCooldown),
		guard.NewResourceLedger(guard.DefaultMemoryCeilingMB, guard.DefaultCPUCeilingPercent),
		nil, nil, nil,
		logger,
	)
	rt := router.New(reg, exec, logger)
	return New(rt, &fixedEvaluator{score: 1.0}, nil, nil, nil, nil, logger)
}

func waitForTerminal(t *testing.T, o *Orchestrator, id string) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap, ok := o.GetWorkflowStatus(id)
		if ok && snap.State.Terminal() {
			return snap
		}
		select {
		case <-deadline:
			t.Fatalf("workflow %s did not reach a terminal state (state=%s)", id, snap.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInitiateWorkflowValidation(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()

	cases := []struct {
		name string
		req  *WorkflowRequest
	}{
		{"nil request", nil},
		{"missing name", &WorkflowRequest{Requirements: map[string]any{"a": 1}}},
		{"missing requirements", &WorkflowRequest{Name: "w"}},
		{"bad strategy", &WorkflowRequest{
			Name: "w", Requirements: map[string]any{"a": 1}, Strategy: "nonsense",
		}},
	}
	for _, c := range cases {
		if _, err := o.InitiateWorkflow(c.req); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
	if len(o.ListWorkflows()) != 0 {
		t.Error("failed validation must not create workflows")
	}
}

func TestWorkflowCompletes(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()

	snap, err := o.InitiateWorkflow(&WorkflowRequest{
		Name:         "gdpr-policy",
		Requirements: map[string]any{"jurisdiction": "EU", "topic": "data retention"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if snap.State != WorkflowInitiated {
		t.Errorf("initial state = %s", snap.State)
	}

	final := waitForTerminal(t, o, snap.ID)
	if final.State != WorkflowCompleted {
		t.Fatalf("state = %s, errors = %v", final.State, final.ErrorLog)
	}
	if final.CurrentStep != len(workflowSteps) {
		t.Errorf("current_step = %d, want %d", final.CurrentStep, len(workflowSteps))
	}
	if len(final.AssignedAgents) == 0 {
		t.Error("expected at least one assigned agent")
	}
	if final.Metrics["tasks_completed"] != 2 {
		t.Errorf("tasks_completed = %f, want 2", final.Metrics["tasks_completed"])
	}
	if final.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestWorkflowFailsOnCompliance(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()
	o.evaluator = &fixedEvaluator{score: 0.3}

	snap, err := o.InitiateWorkflow(&WorkflowRequest{
		Name:         "doomed",
		Requirements: map[string]any{"topic": "anything"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	final := waitForTerminal(t, o, snap.ID)
	if final.State != WorkflowFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if len(final.ErrorLog) == 0 {
		t.Error("expected error log entries")
	}
}

func TestCancelWorkflowIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()

	snap, err := o.InitiateWorkflow(&WorkflowRequest{
		Name:         "to-cancel",
		Requirements: map[string]any{"topic": "x"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := o.CancelWorkflow(context.Background(), snap.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := o.CancelWorkflow(context.Background(), snap.ID); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}

	final := waitForTerminal(t, o, snap.ID)
	// The driver may have won the race and completed first; either
	// terminal state is stable across repeated cancels.
	if !final.State.Terminal() {
		t.Fatalf("state = %s, want terminal", final.State)
	}
	if err := o.CancelWorkflow(context.Background(), "nonexistent"); err == nil {
		t.Error("cancelling an unknown workflow should fail")
	}
}

func TestWorkflowTransitionGraph(t *testing.T) {
	w := &Workflow{State: WorkflowInitiated}
	if err := w.transition(WorkflowExecution); err == nil {
		t.Error("skipping states should be rejected")
	}
	for _, next := range []WorkflowState{
		WorkflowPlanning, WorkflowAgentCreation, WorkflowExecution,
		WorkflowValidation, WorkflowApproval, WorkflowCompleted,
	} {
		if err := w.transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if err := w.transition(WorkflowCancelled); err == nil {
		t.Error("terminal state must not transition")
	}
}

func TestAgentPoolLifecycle(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()

	a, err := o.CreateAgent(agent.Config{
		ID:           "analyst-1",
		Role:         "policy_analyst",
		Capabilities: []string{"research"},
		ToolsAllowed: []string{"echo"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := o.CreateAgent(agent.Config{ID: "analyst-1"}); err == nil {
		t.Error("duplicate agent ID should fail")
	}

	status, ok := o.GetAgentStatus(a.ID())
	if !ok || status.Role != "policy_analyst" {
		t.Errorf("status = %+v, ok = %v", status, ok)
	}
	if got := len(o.ListAgents()); got != 1 {
		t.Errorf("ListAgents() = %d, want 1", got)
	}

	if err := o.ShutdownAgent(a.ID()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, ok := o.GetAgentStatus(a.ID()); ok {
		t.Error("agent should be gone after shutdown")
	}
	if err := o.ShutdownAgent("nope"); err == nil {
		t.Error("shutting down unknown agent should fail")
	}
}

func TestCoordinateSequentialRespectsDependencies(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()
	if _, err := o.CreateAgent(agent.Config{
		ID: "worker", ToolsAllowed: []string{"echo"}, MaxConcurrentTasks: 4,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := agent.NewTask("collect", agent.TaskPriorityMedium, map[string]any{"message": "a"})
	first.RequiredTools = []string{"echo"}
	second := agent.NewTask("summarize", agent.TaskPriorityMedium, map[string]any{"message": "b"})
	second.RequiredTools = []string{"echo"}
	second.DependsOn = []string{first.ID}

	res, err := o.CoordinateMultiAgentTask(context.Background(), &CoordinationRequest{
		Strategy: StrategySequential,
		Tasks:    []*agent.Task{second, first},
	})
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if !res.Succeeded {
		t.Fatalf("result = %+v", res)
	}
	if first.CompletedAt == nil || second.StartedAt == nil {
		t.Fatal("missing timestamps")
	}
	if second.StartedAt.Before(*first.CompletedAt) {
		t.Error("dependent task started before its prerequisite completed")
	}
}

func TestCoordinateFailsWithoutEligibleAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()

	task := agent.NewTask("analysis", agent.TaskPriorityMedium, nil)
	task.RequiredTools = []string{"echo"}
	if _, err := o.CoordinateMultiAgentTask(context.Background(), &CoordinationRequest{
		Strategy: StrategySequential,
		Tasks:    []*agent.Task{task},
	}); err == nil {
		t.Error("expected planning failure with an empty pool")
	}
}

func TestCoordinateConsensus(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()
	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := o.CreateAgent(agent.Config{ID: id, ToolsAllowed: []string{"echo"}}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	task := agent.NewTask("vote", agent.TaskPriorityMedium, map[string]any{"message": "proposal"})
	task.RequiredTools = []string{"echo"}
	res, err := o.CoordinateMultiAgentTask(context.Background(), &CoordinationRequest{
		Strategy: StrategyConsensus,
		Tasks:    []*agent.Task{task},
	})
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if !res.Succeeded {
		t.Fatalf("consensus failed: %+v", res.Tasks)
	}
	if task.Result == nil {
		t.Error("expected a result from the agreeing majority")
	}
}

func TestTopoOrderCycle(t *testing.T) {
	a := agent.NewTask("a", agent.TaskPriorityMedium, nil)
	b := agent.NewTask("b", agent.TaskPriorityMedium, nil)
	a.DependsOn = []string{b.ID}
	b.DependsOn = []string{a.ID}
	if _, err := topoOrder([]*agent.Task{a, b}); err == nil {
		t.Error("cycle should be rejected")
	}
}

func TestCompletedRingEvictsOldest(t *testing.T) {
	r := newCompletedRing(2)
	w1 := &Workflow{ID: "w1"}
	w2 := &Workflow{ID: "w2"}
	w3 := &Workflow{ID: "w3"}
	r.Add(w1)
	r.Add(w2)
	r.Add(w3)

	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	if _, ok := r.Get("w1"); ok {
		t.Error("oldest entry should be evicted")
	}
	if _, ok := r.Get("w3"); !ok {
		t.Error("newest entry missing")
	}
}

func TestConcurrentWorkflowsProgressIndependently(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Shutdown()

	ids := make([]string, 5)
	for i := range ids {
		snap, err := o.InitiateWorkflow(&WorkflowRequest{
			Name:         "wf",
			Requirements: map[string]any{"topic": i},
		})
		if err != nil {
			t.Fatalf("initiate %d: %v", i, err)
		}
		ids[i] = snap.ID
	}
	for _, id := range ids {
		if snap := waitForTerminal(t, o, id); snap.State != WorkflowCompleted {
			t.Errorf("workflow %s state = %s", id, snap.State)
		}
	}
}
