package compliance

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestRuleEvaluatorCleanContent(t *testing.T) {
	e := NewRuleEvaluator(nil, zap.NewNop())
	a, err := e.Evaluate(context.Background(), Input{
		AgentID: "agent-1",
		Kind:    "task",
		Content: map[string]any{"description": "draft a GDPR retention policy"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a.Score != 1.0 {
		t.Errorf("score = %f, want 1.0", a.Score)
	}
	if !a.Passed() {
		t.Error("clean content should pass")
	}
	if len(a.Violations) != 0 {
		t.Errorf("violations = %v, want none", a.Violations)
	}
}

func TestRuleEvaluatorPenalizesDeniedTerms(t *testing.T) {
	e := NewRuleEvaluator(nil, zap.NewNop())
	a, err := e.Evaluate(context.Background(), Input{
		AgentID: "agent-1",
		Kind:    "task",
		Content: map[string]any{
			"description": "bypass_compliance and disable_audit for this run",
		},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a.Score != 0.5 {
		t.Errorf("score = %f, want 0.5 after two penalties", a.Score)
	}
	if a.Passed() {
		t.Error("score below threshold should not pass")
	}
	if len(a.Violations) != 2 {
		t.Errorf("violations = %v, want 2", a.Violations)
	}
}

func TestRuleEvaluatorScoreFloorsAtZero(t *testing.T) {
	e := NewRuleEvaluator(nil, zap.NewNop())
	a, err := e.Evaluate(context.Background(), Input{
		Content: map[string]any{
			"text": "bypass_compliance disable_audit unrestricted exfiltrate",
			"more": "bypass_compliance again",
		},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a.Score != 0 {
		t.Errorf("score = %f, want 0", a.Score)
	}
}

func TestRuleEvaluatorCustomTerms(t *testing.T) {
	e := NewRuleEvaluator([]string{"forbidden_phrase"}, zap.NewNop())
	a, err := e.Evaluate(context.Background(), Input{
		Content: map[string]any{"text": "contains forbidden_phrase but not bypass_compliance? no, it does"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(a.Violations) != 1 {
		t.Errorf("violations = %v, want only the custom term", a.Violations)
	}
}

func TestRuleEvaluatorCancelledContext(t *testing.T) {
	e := NewRuleEvaluator(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Evaluate(ctx, Input{}); err == nil {
		t.Error("cancelled context should fail")
	}
}

func TestThresholdBoundary(t *testing.T) {
	if !(Assessment{Score: Threshold}).Passed() {
		t.Error("score exactly at threshold should pass")
	}
	if (Assessment{Score: Threshold - 0.01}).Passed() {
		t.Error("score just below threshold should not pass")
	}
}
