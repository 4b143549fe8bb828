// Package llm provides thin HTTP clients for completion providers and a
// fallback chain over them. Warden uses completions only for collaborator
// roles (compliance evaluation, policy drafting), never for control-plane
// decisions.
package llm

import (
	"context"
	"time"
)

// Client is a single completion provider.
type Client interface {
	ID() string
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is a completion result.
type Response struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClientConfig holds configuration for a client instance.
type ClientConfig struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // openai | anthropic
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
