// Package generate produces policy text through an LLM provider chain.
// The control plane never judges the quality of the text itself; callers
// gate the output through the compliance evaluator.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/warden/internal/llm"
	"go.uber.org/zap"
)

// Request describes the policy fragment to generate.
type Request struct {
	Topic        string
	Requirements string
}

// ContentGenerator drafts policy text from structured requirements.
type ContentGenerator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// LLMGenerator drafts text through an llm.Chain.
type LLMGenerator struct {
	chain  *llm.Chain
	model  string
	logger *zap.Logger
}

// NewLLMGenerator creates a generator on top of a provider chain.
func NewLLMGenerator(chain *llm.Chain, model string, logger *zap.Logger) *LLMGenerator {
	return &LLMGenerator{chain: chain, model: model, logger: logger}
}

// Generate implements ContentGenerator.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return "", fmt.Errorf("topic is required")
	}

	prompt := fmt.Sprintf(`Draft a formal policy section.

Topic: %s
Requirements:
%s

Write clear, numbered policy language. Do not include commentary.`,
		req.Topic, req.Requirements)

	resp, err := g.chain.Complete(ctx, &llm.Request{
		Model: g.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a policy drafting assistant for a governance team."},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}

	g.logger.Debug("policy draft generated",
		zap.String("topic", req.Topic),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return resp.Content, nil
}
