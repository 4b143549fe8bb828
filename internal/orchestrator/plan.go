package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/warden/internal/agent"
)

// Strategy selects how a multi-agent task set is coordinated.
type Strategy string

const (
	StrategySequential   Strategy = "sequential"
	StrategyParallel     Strategy = "parallel"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyConsensus    Strategy = "consensus"
	StrategyCompetitive  Strategy = "competitive"
)

// Valid reports whether the strategy is one of the known five.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHierarchical,
		StrategyConsensus, StrategyCompetitive:
		return true
	}
	return false
}

// maxParallelism bounds concurrent task execution under the parallel
// strategy.
const maxParallelism = 4

// CoordinationRequest asks for a set of tasks to run across the pool.
type CoordinationRequest struct {
	WorkflowID string        `json:"workflow_id,omitempty"`
	Strategy   Strategy      `json:"strategy"`
	Tasks      []*agent.Task `json:"tasks"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// CoordinationPlan records which agent runs which task and in what
// dependency order. Immutable after creation.
type CoordinationPlan struct {
	ID           string              `json:"id"`
	WorkflowID   string              `json:"workflow_id,omitempty"`
	Strategy     Strategy            `json:"strategy"`
	Assignments  map[string]string   `json:"assignments"`  // task id -> agent id
	Dependencies map[string][]string `json:"dependencies"` // task id -> prerequisite task ids
	Timeout      time.Duration       `json:"timeout"`
	CreatedAt    time.Time           `json:"created_at"`
}

// CoordinationResult reports per-task outcomes of one plan execution.
type CoordinationResult struct {
	PlanID    string                `json:"plan_id"`
	Succeeded bool                  `json:"succeeded"`
	Tasks     map[string]TaskResult `json:"tasks"`
}

// TaskResult is the per-task view in a coordination result.
type TaskResult struct {
	AgentID string           `json:"agent_id"`
	Status  agent.TaskStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

// buildPlan assigns every task to an eligible agent by capability match.
// Fails when any task has no eligible agent.
func (o *Orchestrator) buildPlan(req *CoordinationRequest) (*CoordinationPlan, error) {
	plan := &CoordinationPlan{
		ID:           uuid.New().String(),
		WorkflowID:   req.WorkflowID,
		Strategy:     req.Strategy,
		Assignments:  make(map[string]string, len(req.Tasks)),
		Dependencies: make(map[string][]string, len(req.Tasks)),
		Timeout:      req.Timeout,
		CreatedAt:    time.Now(),
	}
	for _, t := range req.Tasks {
		a := o.eligibleAgent(t)
		if a == nil {
			return nil, fmt.Errorf("no eligible agent for task %s (type %s)", t.ID, t.Type)
		}
		plan.Assignments[t.ID] = a.ID()
		plan.Dependencies[t.ID] = t.DependsOn
	}
	return plan, nil
}

// topoOrder returns task IDs in dependency order. Dependencies outside
// the plan are ignored; a cycle is an error.
func topoOrder(tasks []*agent.Task) ([]*agent.Task, error) {
	byID := make(map[string]*agent.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, in := byID[dep]; in {
				indegree[t.ID]++
				dependents[dep] = append(dependents[dep], t.ID)
			}
		}
	}

	var ready []*agent.Task
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t)
		}
	}
	var order []*agent.Task
	for len(ready) > 0 {
		t := ready[0]
		ready = ready[1:]
		order = append(order, t)
		for _, depID := range dependents[t.ID] {
			indegree[depID]--
			if indegree[depID] == 0 {
				ready = append(ready, byID[depID])
			}
		}
	}
	if len(order) != len(tasks) {
		return nil, fmt.Errorf("dependency cycle among %d tasks", len(tasks)-len(order))
	}
	return order, nil
}

// executePlan runs the plan under its strategy and collects results.
func (o *Orchestrator) executePlan(ctx context.Context, plan *CoordinationPlan, tasks []*agent.Task) *CoordinationResult {
	if plan.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
	}

	res := &CoordinationResult{
		PlanID: plan.ID,
		Tasks:  make(map[string]TaskResult, len(tasks)),
	}

	switch plan.Strategy {
	case StrategyParallel:
		o.runParallel(ctx, plan, tasks, res)
	case StrategyHierarchical:
		o.runHierarchical(ctx, plan, tasks, res)
	case StrategyConsensus:
		o.runConsensus(ctx, tasks, res)
	case StrategyCompetitive:
		o.runCompetitive(ctx, tasks, res)
	default:
		o.runSequential(ctx, plan, tasks, res)
	}

	res.Succeeded = true
	for _, tr := range res.Tasks {
		if tr.Status != agent.TaskCompleted {
			res.Succeeded = false
			break
		}
	}
	return res
}

func (o *Orchestrator) runOn(ctx context.Context, agentID string, t *agent.Task) TaskResult {
	a, ok := o.agentByID(agentID)
	if !ok {
		return TaskResult{AgentID: agentID, Status: agent.TaskFailed, Error: "agent no longer exists"}
	}
	a.ExecuteTask(ctx, t)
	return TaskResult{AgentID: agentID, Status: t.Status, Error: t.Error}
}

// runSequential executes tasks one at a time in dependency order.
func (o *Orchestrator) runSequential(ctx context.Context, plan *CoordinationPlan, tasks []*agent.Task, res *CoordinationResult) {
	order, err := topoOrder(tasks)
	if err != nil {
		for _, t := range tasks {
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: err.Error()}
		}
		return
	}
	for _, t := range order {
		res.Tasks[t.ID] = o.runOn(ctx, plan.Assignments[t.ID], t)
	}
}

// runParallel executes dependency-free waves concurrently, bounded by
// maxParallelism.
func (o *Orchestrator) runParallel(ctx context.Context, plan *CoordinationPlan, tasks []*agent.Task, res *CoordinationResult) {
	order, err := topoOrder(tasks)
	if err != nil {
		for _, t := range tasks {
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: err.Error()}
		}
		return
	}

	sem := make(chan struct{}, maxParallelism)
	var mu sync.Mutex
	done := make(map[string]bool, len(tasks))

	depsDone := func(t *agent.Task) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, dep := range t.DependsOn {
			if _, planned := plan.Assignments[dep]; planned && !done[dep] {
				return false
			}
		}
		return true
	}

	remaining := order
	for len(remaining) > 0 {
		var wave, deferred []*agent.Task
		for _, t := range remaining {
			if depsDone(t) {
				wave = append(wave, t)
			} else {
				deferred = append(deferred, t)
			}
		}
		if len(wave) == 0 {
			// Remaining tasks depend on failures upstream; mark and stop.
			for _, t := range deferred {
				mu.Lock()
				res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: "prerequisite did not complete"}
				mu.Unlock()
			}
			return
		}

		var wg sync.WaitGroup
		for _, t := range wave {
			wg.Add(1)
			sem <- struct{}{}
			go func(t *agent.Task) {
				defer wg.Done()
				defer func() { <-sem }()
				tr := o.runOn(ctx, plan.Assignments[t.ID], t)
				mu.Lock()
				res.Tasks[t.ID] = tr
				done[t.ID] = tr.Status == agent.TaskCompleted
				mu.Unlock()
			}(t)
		}
		wg.Wait()
		remaining = deferred
	}
}

// runHierarchical runs subordinate tasks first, then the lead task with
// the subordinate results merged into its parameters. The lead's
// completion is the approval.
func (o *Orchestrator) runHierarchical(ctx context.Context, plan *CoordinationPlan, tasks []*agent.Task, res *CoordinationResult) {
	if len(tasks) == 0 {
		return
	}
	lead, subordinates := tasks[0], tasks[1:]

	subResults := make(map[string]any, len(subordinates))
	for _, t := range subordinates {
		tr := o.runOn(ctx, plan.Assignments[t.ID], t)
		res.Tasks[t.ID] = tr
		if tr.Status != agent.TaskCompleted {
			res.Tasks[lead.ID] = TaskResult{
				AgentID: plan.Assignments[lead.ID],
				Status:  agent.TaskFailed,
				Error:   fmt.Sprintf("subordinate task %s did not complete", t.ID),
			}
			return
		}
		subResults[t.ID] = t.Result
	}

	if lead.Params == nil {
		lead.Params = make(map[string]any)
	}
	lead.Params["subordinate_results"] = subResults
	res.Tasks[lead.ID] = o.runOn(ctx, plan.Assignments[lead.ID], lead)
}

// runConsensus gives the same task to every eligible agent; the outcome
// stands when a majority completes.
func (o *Orchestrator) runConsensus(ctx context.Context, tasks []*agent.Task, res *CoordinationResult) {
	for _, t := range tasks {
		agents := o.eligibleAgents(t)
		if len(agents) == 0 {
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: "no eligible agents"}
			continue
		}

		var mu sync.Mutex
		completed := 0
		var wg sync.WaitGroup
		for _, a := range agents {
			wg.Add(1)
			go func(a *agent.Agent) {
				defer wg.Done()
				clone := *t
				clone.ID = uuid.New().String()
				a.ExecuteTask(ctx, &clone)
				if clone.Status == agent.TaskCompleted {
					mu.Lock()
					completed++
					if t.Result == nil {
						t.Result = clone.Result
					}
					mu.Unlock()
				}
			}(a)
		}
		wg.Wait()

		if completed*2 > len(agents) {
			t.Status = agent.TaskCompleted
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskCompleted}
		} else {
			t.Status = agent.TaskFailed
			t.Error = fmt.Sprintf("consensus not reached: %d/%d agents completed", completed, len(agents))
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: t.Error}
		}
	}
}

// runCompetitive races all eligible agents; the first completion wins
// and late results are discarded.
func (o *Orchestrator) runCompetitive(ctx context.Context, tasks []*agent.Task, res *CoordinationResult) {
	for _, t := range tasks {
		agents := o.eligibleAgents(t)
		if len(agents) == 0 {
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: "no eligible agents"}
			continue
		}

		raceCtx, cancel := context.WithCancel(ctx)
		type winner struct {
			agentID string
			result  map[string]any
		}
		won := make(chan winner, len(agents))
		var wg sync.WaitGroup
		for _, a := range agents {
			wg.Add(1)
			go func(a *agent.Agent) {
				defer wg.Done()
				clone := *t
				clone.ID = uuid.New().String()
				a.ExecuteTask(raceCtx, &clone)
				if clone.Status == agent.TaskCompleted {
					won <- winner{agentID: a.ID(), result: clone.Result}
				}
			}(a)
		}

		go func() {
			wg.Wait()
			close(won)
		}()

		if w, ok := <-won; ok {
			cancel()
			t.Status = agent.TaskCompleted
			t.Result = w.result
			res.Tasks[t.ID] = TaskResult{AgentID: w.agentID, Status: agent.TaskCompleted}
		} else {
			cancel()
			t.Status = agent.TaskFailed
			t.Error = "no agent completed the task"
			res.Tasks[t.ID] = TaskResult{Status: agent.TaskFailed, Error: t.Error}
		}
	}
}
