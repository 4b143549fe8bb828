package tool

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/warden/internal/compliance"
)

func nopHandler() Handler {
	return HandlerFunc(func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	def := &Definition{ID: "echo", Name: "Echo", Safety: SafetyLow}
	if err := reg.Register(def, nopHandler()); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, handler, ok := reg.Get("echo")
	if !ok || got.ID != "echo" || handler == nil {
		t.Fatalf("Get(echo) = %v, %v, %v", got, handler, ok)
	}
	if _, _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) should report not found")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	def := &Definition{ID: "echo", Name: "Echo"}
	if err := reg.Register(def, nopHandler()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(def, nopHandler()); err == nil {
		t.Error("duplicate register should fail")
	}
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if err := reg.Register(&Definition{Name: "anon"}, nopHandler()); err == nil {
		t.Error("register without ID should fail")
	}
	if err := reg.Register(nil, nopHandler()); err == nil {
		t.Error("nil definition should fail")
	}
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if err := reg.Register(&Definition{ID: "a", Name: "A"}, nopHandler()); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Freeze()
	if err := reg.Register(&Definition{ID: "b", Name: "B"}, nopHandler()); err == nil {
		t.Error("register after freeze should fail")
	}
	if _, _, ok := reg.Get("a"); !ok {
		t.Error("lookups must keep working after freeze")
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(&Definition{ID: id, Name: id}, nopHandler()); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	list := reg.List()
	want := []string{"alpha", "mid", "zeta"}
	for i, d := range list {
		if d.ID != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, d.ID, want[i])
		}
	}
}

func TestRegistryFilters(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	defs := []*Definition{
		{ID: "low", Safety: SafetyLow, Tags: []string{"diagnostic"}},
		{ID: "med", Safety: SafetyMedium, Tags: []string{"compliance"}},
		{ID: "crit", Safety: SafetyCritical, Tags: []string{"compliance"}},
	}
	for _, d := range defs {
		if err := reg.Register(d, nopHandler()); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
	}

	if got := reg.FilterBySafety(SafetyMedium); len(got) != 2 {
		t.Errorf("FilterBySafety(medium) = %d defs, want 2", len(got))
	}
	if got := reg.FilterByTag("compliance"); len(got) != 2 {
		t.Errorf("FilterByTag(compliance) = %d defs, want 2", len(got))
	}
	if got := reg.FilterByTag("nonexistent"); len(got) != 0 {
		t.Errorf("FilterByTag(nonexistent) = %d defs, want 0", len(got))
	}
}

func TestBuiltinToolsRegister(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if err := RegisterBuiltinTools(reg, nil, nil); err != nil {
		t.Fatalf("builtin registration: %v", err)
	}
	for _, id := range []string{"echo", "regulatory_search", "risk_analysis", "policy_draft", "compliance_check"} {
		if _, _, ok := reg.Get(id); !ok {
			t.Errorf("builtin %s not registered", id)
		}
	}
}

func TestComplianceCheckTool(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if err := RegisterBuiltinTools(reg, nil, compliance.NewRuleEvaluator(nil, zap.NewNop())); err != nil {
		t.Fatalf("builtin registration: %v", err)
	}
	_, handler, ok := reg.Get("compliance_check")
	if !ok {
		t.Fatal("compliance_check not registered")
	}

	out, err := handler.Invoke(context.Background(), map[string]any{
		"content": map[string]any{"summary": "retention schedule for customer records"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	score, ok := out["score"].(float64)
	if !ok || score < 0 || score > 1 {
		t.Errorf("score = %v, want in [0,1]", out["score"])
	}
	if passed, ok := out["passed"].(bool); !ok || !passed {
		t.Errorf("passed = %v for benign content", out["passed"])
	}

	out, err = handler.Invoke(context.Background(), map[string]any{
		"content": map[string]any{"plan": "bypass_compliance and disable_audit on export"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if passed, _ := out["passed"].(bool); passed {
		t.Errorf("passed = true for content with prohibited patterns, out = %v", out)
	}
	if violations, _ := out["violations"].([]string); len(violations) == 0 {
		t.Error("expected violations for prohibited patterns")
	}
}

func TestComplianceCheckToolWithoutEvaluator(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if err := RegisterBuiltinTools(reg, nil, nil); err != nil {
		t.Fatalf("builtin registration: %v", err)
	}
	_, handler, _ := reg.Get("compliance_check")
	if _, err := handler.Invoke(context.Background(), map[string]any{
		"content": map[string]any{},
	}); err == nil {
		t.Error("expected error when no evaluator is configured")
	}
}

func TestSearchRegulations(t *testing.T) {
	out, err := searchRegulations(context.Background(), map[string]any{"query": "personal data"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	matches := out["matches"].([]map[string]any)
	if len(matches) == 0 {
		t.Fatal("expected matches for personal data")
	}
	if _, err := searchRegulations(context.Background(), map[string]any{}); err == nil {
		t.Error("empty query should fail")
	}
}

func TestAnalyzeRisk(t *testing.T) {
	out, err := analyzeRisk(context.Background(), map[string]any{
		"text": "store payment data and patient records behind a password",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	score := out["risk_score"].(float64)
	if score <= 0 || score > 1 {
		t.Errorf("risk_score = %f, want in (0,1]", score)
	}
	categories := out["categories"].([]string)
	if len(categories) < 2 {
		t.Errorf("categories = %v, expected multiple hits", categories)
	}
}
