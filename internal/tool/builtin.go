package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/generate"
)

// RegisterBuiltinTools adds the default policy-generation tools to a registry.
// gen and ev may be nil; the tools backed by them then report themselves
// unavailable.
func RegisterBuiltinTools(reg *Registry, gen generate.ContentGenerator, ev compliance.Evaluator) error {
	builtins := []struct {
		def     *Definition
		handler Handler
	}{
		{
			def: &Definition{
				ID:               "echo",
				Name:             "Echo",
				Description:      "Returns its input unchanged; used for connectivity checks",
				Safety:           SafetyLow,
				InputShape:       map[string]string{"message": "string"},
				OutputShape:      map[string]string{"message": "string"},
				RateLimitPerHour: 100,
				MaxExecutionTime: 5 * time.Second,
				Resources:        ResourceRequirement{MemoryMB: 8, CPUPercent: 1},
				Tags:             []string{"diagnostic"},
				Version:          "1.0",
			},
			handler: HandlerFunc(func(_ context.Context, params map[string]any) (map[string]any, error) {
				return map[string]any{"message": params["message"]}, nil
			}),
		},
		{
			def: &Definition{
				ID:                  "regulatory_search",
				Name:                "Regulatory Search",
				Description:         "Searches the indexed regulatory corpus for matching clauses",
				Safety:              SafetyMedium,
				RequiredPermissions: []string{"corpus:read"},
				InputShape:          map[string]string{"query": "string", "jurisdiction": "string"},
				OutputShape:         map[string]string{"matches": "list", "query": "string"},
				RateLimitPerHour:    60,
				MaxExecutionTime:    30 * time.Second,
				Resources:           ResourceRequirement{MemoryMB: 128, CPUPercent: 5},
				Tags:                []string{"research", "compliance"},
				Version:             "1.2",
			},
			handler: HandlerFunc(searchRegulations),
		},
		{
			def: &Definition{
				ID:                  "risk_analysis",
				Name:                "Risk Analysis",
				Description:         "Scores a draft policy fragment against known risk categories",
				Safety:              SafetyMedium,
				RequiredPermissions: []string{"corpus:read"},
				InputShape:          map[string]string{"text": "string"},
				OutputShape:         map[string]string{"risk_score": "number", "categories": "list"},
				RateLimitPerHour:    60,
				MaxExecutionTime:    30 * time.Second,
				Resources:           ResourceRequirement{MemoryMB: 256, CPUPercent: 10},
				Tags:                []string{"analysis", "compliance"},
				Version:             "1.0",
			},
			handler: HandlerFunc(analyzeRisk),
		},
		{
			def: &Definition{
				ID:                  "policy_draft",
				Name:                "Policy Draft",
				Description:         "Generates policy text from structured requirements",
				Safety:              SafetyHigh,
				RequiredPermissions: []string{"content:generate"},
				InputShape:          map[string]string{"topic": "string", "requirements": "string"},
				OutputShape:         map[string]string{"draft": "string", "topic": "string"},
				RateLimitPerHour:    30,
				MaxExecutionTime:    2 * time.Minute,
				Resources:           ResourceRequirement{MemoryMB: 512, CPUPercent: 15},
				Tags:                []string{"generation"},
				Version:             "2.0",
			},
			handler: HandlerFunc(func(ctx context.Context, params map[string]any) (map[string]any, error) {
				if gen == nil {
					return nil, fmt.Errorf("no content generator configured")
				}
				topic, _ := params["topic"].(string)
				reqs, _ := params["requirements"].(string)
				draft, err := gen.Generate(ctx, generate.Request{Topic: topic, Requirements: reqs})
				if err != nil {
					return nil, fmt.Errorf("draft generation: %w", err)
				}
				return map[string]any{"draft": draft, "topic": topic}, nil
			}),
		},
		{
			def: &Definition{
				ID:                  "compliance_check",
				Name:                "Compliance Check",
				Description:         "Scores content against the active governance constraints",
				Safety:              SafetyMedium,
				RequiredPermissions: []string{"compliance:evaluate"},
				InputShape:          map[string]string{"content": "object"},
				OutputShape:         map[string]string{"score": "number", "passed": "bool", "violations": "list"},
				RateLimitPerHour:    120,
				MaxExecutionTime:    30 * time.Second,
				Resources:           ResourceRequirement{MemoryMB: 64, CPUPercent: 5},
				Tags:                []string{"compliance"},
				Version:             "1.0",
			},
			handler: HandlerFunc(func(ctx context.Context, params map[string]any) (map[string]any, error) {
				if ev == nil {
					return nil, fmt.Errorf("no compliance evaluator configured")
				}
				content, _ := params["content"].(map[string]any)
				assessment, err := ev.Evaluate(ctx, compliance.Input{
					Kind:    "output",
					Content: content,
				})
				if err != nil {
					return nil, fmt.Errorf("compliance evaluation: %w", err)
				}
				return map[string]any{
					"score":      assessment.Score,
					"passed":     assessment.Passed(),
					"violations": assessment.Violations,
				}, nil
			}),
		},
	}

	for _, b := range builtins {
		if err := reg.Register(b.def, b.handler); err != nil {
			return err
		}
	}
	return nil
}

// searchRegulations is a lexical search over a small embedded clause set.
// A production deployment swaps this handler for one backed by the real
// corpus index; the definition stays the same.
func searchRegulations(_ context.Context, params map[string]any) (map[string]any, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	var matches []map[string]any
	for _, c := range regulatoryClauses {
		if strings.Contains(strings.ToLower(c.text), strings.ToLower(query)) {
			matches = append(matches, map[string]any{
				"clause_id": c.id,
				"text":      c.text,
			})
		}
	}
	return map[string]any{"query": query, "matches": matches}, nil
}

// analyzeRisk assigns a heuristic risk score by category keyword hits.
func analyzeRisk(_ context.Context, params map[string]any) (map[string]any, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	lower := strings.ToLower(text)
	var categories []string
	for category, terms := range riskCategories {
		for _, term := range terms {
			if strings.Contains(lower, term) {
				categories = append(categories, category)
				break
			}
		}
	}
	score := float64(len(categories)) / float64(len(riskCategories))
	return map[string]any{"risk_score": score, "categories": categories}, nil
}

type clause struct {
	id   string
	text string
}

var regulatoryClauses = []clause{
	{"GDPR-5.1", "personal data shall be processed lawfully, fairly and transparently"},
	{"GDPR-17.1", "the data subject shall have the right to erasure of personal data"},
	{"SOX-404", "management shall assess the effectiveness of internal control over financial reporting"},
	{"HIPAA-164.312", "implement technical safeguards for electronic protected health information"},
	{"PCI-3.4", "render primary account numbers unreadable anywhere they are stored"},
}

var riskCategories = map[string][]string{
	"data_privacy":   {"personal data", "pii", "data subject"},
	"financial":      {"financial", "payment", "account number"},
	"health":         {"health", "medical", "patient"},
	"access_control": {"password", "credential", "authentication"},
	"data_retention": {"retention", "erasure", "deletion"},
}
