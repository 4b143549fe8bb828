// Package router is the public façade over the tool registry and the safe
// executor: it resolves a tool ID and delegates the call.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/tool"
	"go.uber.org/zap"
)

// Router resolves tool IDs and routes execution requests.
type Router struct {
	registry *tool.Registry
	exec     *executor.Executor
	logger   *zap.Logger
}

// New creates a router.
func New(registry *tool.Registry, exec *executor.Executor, logger *zap.Logger) *Router {
	return &Router{registry: registry, exec: exec, logger: logger}
}

// Route looks up the tool and delegates to the executor. An unknown tool
// or a definition without a handler fails immediately; no pipeline stage
// runs and no counters are charged.
func (r *Router) Route(ctx context.Context, req *executor.Request) *executor.Result {
	def, handler, ok := r.registry.Get(req.ToolID)
	if !ok {
		return r.reject(req, fmt.Sprintf("unknown tool %q", req.ToolID))
	}
	if handler == nil {
		return r.reject(req, fmt.Sprintf("tool %q has no handler", req.ToolID))
	}

	r.logger.Debug("routing tool call",
		zap.String("agent", req.AgentID),
		zap.String("tool", req.ToolID))
	return r.exec.Execute(ctx, def, handler, req)
}

// Tools returns all registered definitions.
func (r *Router) Tools() []*tool.Definition {
	return r.registry.List()
}

// ToolsBySafety returns definitions at or below the given safety level.
func (r *Router) ToolsBySafety(max tool.SafetyLevel) []*tool.Definition {
	return r.registry.FilterBySafety(max)
}

// Definition exposes a single tool definition.
func (r *Router) Definition(id string) (*tool.Definition, bool) {
	return r.registry.Definition(id)
}

func (r *Router) reject(req *executor.Request, msg string) *executor.Result {
	now := time.Now()
	return &executor.Result{
		RequestID:   req.ID,
		AgentID:     req.AgentID,
		ToolID:      req.ToolID,
		Status:      executor.StatusFailed,
		Error:       msg,
		ErrorKind:   executor.KindValidation,
		FailedStage: "tool_resolution",
		StartedAt:   now,
		CompletedAt: now,
		AuditTrail: []executor.AuditEntry{{
			Stage:     "tool_resolution",
			Outcome:   "failed",
			Detail:    map[string]any{"error": msg},
			Timestamp: now,
		}},
	}
}
