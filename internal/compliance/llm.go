package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/warden/internal/llm"
	"go.uber.org/zap"
)

// LLMEvaluator scores material through a completion provider chain.
// On transport failure it fails safe: score 0 with the error surfaced as a
// violation, so callers reject rather than wave questionable work through.
type LLMEvaluator struct {
	chain   *llm.Chain
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMEvaluator creates an LLM-backed evaluator.
func NewLLMEvaluator(chain *llm.Chain, model string, logger *zap.Logger) *LLMEvaluator {
	return &LLMEvaluator{
		chain:   chain,
		model:   model,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Evaluate implements Evaluator.
func (e *LLMEvaluator) Evaluate(ctx context.Context, in Input) (Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	content, _ := json.Marshal(in.Content)
	prompt := fmt.Sprintf(`Assess the following %s material against governance constraints.

Constraints: %s
Material: %s

Reply with JSON only: {"score": <0.0-1.0>, "violations": ["..."]}`,
		in.Kind, strings.Join(in.Constraints, "; "), string(content))

	resp, err := e.chain.Complete(ctx, &llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a compliance evaluator. Reply with JSON only."},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 512,
	})
	if err != nil {
		e.logger.Warn("compliance evaluation transport failure",
			zap.String("agent", in.AgentID), zap.Error(err))
		return Assessment{Score: 0, Violations: []string{"evaluator unreachable: " + err.Error()}}, nil
	}

	var parsed Assessment
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		e.logger.Warn("compliance evaluation unparseable",
			zap.String("agent", in.AgentID), zap.Error(err))
		return Assessment{Score: 0, Violations: []string{"evaluator response unparseable"}}, nil
	}
	if parsed.Score < 0 {
		parsed.Score = 0
	}
	if parsed.Score > 1 {
		parsed.Score = 1
	}
	return parsed, nil
}

// extractJSON trims fenced code blocks some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
