package tool

import (
	"context"
	"time"
)

// SafetyLevel classifies how dangerous a tool is to invoke.
type SafetyLevel string

const (
	SafetyLow      SafetyLevel = "low"
	SafetyMedium   SafetyLevel = "medium"
	SafetyHigh     SafetyLevel = "high"
	SafetyCritical SafetyLevel = "critical"
)

// ResourceRequirement is the declared footprint of one tool execution.
type ResourceRequirement struct {
	MemoryMB   int     `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Definition describes a registered tool. Immutable once registered.
type Definition struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	Safety              SafetyLevel         `json:"safety"`
	RequiredPermissions []string            `json:"required_permissions,omitempty"`
	InputShape          map[string]string   `json:"input_shape,omitempty"`  // param name -> type name
	OutputShape         map[string]string   `json:"output_shape,omitempty"` // key name -> type name
	RateLimitPerHour    int                 `json:"rate_limit_per_hour"`
	MaxExecutionTime    time.Duration       `json:"max_execution_time"`
	Resources           ResourceRequirement `json:"resources"`
	Tags                []string            `json:"tags,omitempty"`
	Version             string              `json:"version"`
}

// Handler is the pluggable business logic behind a tool. Implementations
// must return promptly after ctx is cancelled; a late result is discarded
// by the executor, never awaited.
type Handler interface {
	Invoke(ctx context.Context, params map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f(ctx, params)
}

// HasTag reports whether the definition carries the given tag.
func (d *Definition) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
