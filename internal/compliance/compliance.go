// Package compliance defines the evaluator collaborator contract. The
// control plane treats the score as opaque: anything below Threshold is a
// hard rejection, everything else passes.
package compliance

import (
	"context"
)

// Threshold is the minimum passing score.
const Threshold = 0.7

// Input is the material under evaluation.
type Input struct {
	AgentID     string         `json:"agent_id"`
	TaskID      string         `json:"task_id,omitempty"`
	Kind        string         `json:"kind"` // task | output
	Constraints []string       `json:"constraints,omitempty"`
	Content     map[string]any `json:"content,omitempty"`
}

// Assessment is the evaluator's verdict.
type Assessment struct {
	Score      float64  `json:"score"`
	Violations []string `json:"violations,omitempty"`
}

// Passed reports whether the score clears the threshold.
func (a Assessment) Passed() bool { return a.Score >= Threshold }

// Evaluator scores tasks and outputs against governance constraints.
// Implementations must respect ctx deadlines.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Assessment, error)
}
