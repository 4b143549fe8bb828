package compliance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RuleEvaluator is a deterministic keyword-based evaluator. It is the
// default when no LLM evaluator is configured and the fixture evaluator
// in tests. Each denied term found in the content costs one penalty.
type RuleEvaluator struct {
	deniedTerms []string
	penalty     float64
	logger      *zap.Logger
}

// NewRuleEvaluator creates a rule evaluator. Empty deniedTerms uses the
// built-in list.
func NewRuleEvaluator(deniedTerms []string, logger *zap.Logger) *RuleEvaluator {
	if len(deniedTerms) == 0 {
		deniedTerms = defaultDeniedTerms
	}
	return &RuleEvaluator{
		deniedTerms: deniedTerms,
		penalty:     0.25,
		logger:      logger,
	}
}

var defaultDeniedTerms = []string{
	"bypass_compliance",
	"disable_audit",
	"unrestricted",
	"exfiltrate",
}

// Evaluate implements Evaluator.
func (e *RuleEvaluator) Evaluate(ctx context.Context, in Input) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}

	text := flatten(in.Content)
	score := 1.0
	var violations []string
	for _, term := range e.deniedTerms {
		if strings.Contains(text, term) {
			score -= e.penalty
			violations = append(violations, fmt.Sprintf("denied term %q present", term))
		}
	}
	if score < 0 {
		score = 0
	}

	e.logger.Debug("rule evaluation",
		zap.String("agent", in.AgentID),
		zap.String("kind", in.Kind),
		zap.Float64("score", score))
	return Assessment{Score: score, Violations: violations}, nil
}

func flatten(content map[string]any) string {
	var b strings.Builder
	for k, v := range content {
		b.WriteString(strings.ToLower(k))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(fmt.Sprint(v)))
		b.WriteByte(' ')
	}
	return b.String()
}
