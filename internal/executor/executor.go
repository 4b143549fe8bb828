// Package executor runs single tool calls through the full safety
// pipeline: permission gate, rate limit, circuit breaker, input
// validation, resource reservation, bounded handler invocation, output
// redaction. Every stage leaves an audit-trail entry; the trail is
// returned on every path.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/warden/internal/alerting"
	"github.com/nidhogg/warden/internal/audit"
	"github.com/nidhogg/warden/internal/guard"
	"github.com/nidhogg/warden/internal/tool"
	"go.uber.org/zap"
)

// Stage names, in pipeline order.
const (
	StageSecurity  = "security_check"
	StageRateLimit = "rate_limit"
	StageBreaker   = "circuit_breaker"
	StageInput     = "input_validation"
	StageResources = "resource_allocation"
	StageHandler   = "handler_invocation"
	StageOutput    = "output_sanitization"
)

// metadata key an execution request must carry to run a critical tool.
const EmergencyApprovalKey = "emergency_approved"

// Executor composes the protective primitives around handler invocation.
type Executor struct {
	limiter   *guard.RateLimiter
	breaker   *guard.CircuitBreaker
	ledger    *guard.ResourceLedger
	validator InputValidator
	sink      audit.Sink
	alerts    *alerting.Dispatcher
	logger    *zap.Logger
}

// New creates an executor. sink and alerts may be nil.
func New(
	limiter *guard.RateLimiter,
	breaker *guard.CircuitBreaker,
	ledger *guard.ResourceLedger,
	validator InputValidator,
	sink audit.Sink,
	alerts *alerting.Dispatcher,
	logger *zap.Logger,
) *Executor {
	if validator == nil {
		validator = NewShapeValidator()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Executor{
		limiter:   limiter,
		breaker:   breaker,
		ledger:    ledger,
		validator: validator,
		sink:      sink,
		alerts:    alerts,
		logger:    logger,
	}
}

// Execute runs one tool call through the pipeline. The stages run in a
// fixed order and short-circuit on the first failure; the returned result
// always carries the audit trail accumulated so far.
func (e *Executor) Execute(ctx context.Context, def *tool.Definition, handler tool.Handler, req *Request) *Result {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	res := &Result{
		RequestID: req.ID,
		AgentID:   req.AgentID,
		ToolID:    def.ID,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Usage: ResourceUsage{
			MemoryMB:   def.Resources.MemoryMB,
			CPUPercent: def.Resources.CPUPercent,
		},
	}
	defer func() {
		res.CompletedAt = time.Now()
		res.Duration = res.CompletedAt.Sub(res.StartedAt)
		e.record(req, res)
	}()

	// 1. Security check: critical tools need explicit approval.
	if def.Safety == tool.SafetyCritical && req.Metadata[EmergencyApprovalKey] != "true" {
		return e.fail(res, &Failure{
			Kind:    KindPermission,
			Stage:   StageSecurity,
			Message: fmt.Sprintf("tool %s is critical and requires %s metadata", def.ID, EmergencyApprovalKey),
		}, StatusBlocked)
	}
	e.pass(res, StageSecurity, map[string]any{"safety": string(def.Safety)})

	// 2. Rate limit: charge the (agent, tool) pair's hourly quota.
	if err := e.limiter.Allow(req.AgentID, def.ID, def.RateLimitPerHour); err != nil {
		return e.fail(res, &Failure{
			Kind: KindRateLimit, Stage: StageRateLimit, Message: "quota exhausted", Cause: err,
		}, StatusBlocked)
	}
	e.pass(res, StageRateLimit, nil)

	// 3. Circuit breaker.
	if err := e.breaker.Allow(def.ID); err != nil {
		return e.fail(res, &Failure{
			Kind: KindCircuitOpen, Stage: StageBreaker, Message: "breaker open", Cause: err,
		}, StatusBlocked)
	}
	e.pass(res, StageBreaker, nil)

	// 4. Input validation and sanitization.
	validated := e.validator.ValidateAndSanitize(req.Params, def.InputShape)
	if !validated.Valid {
		return e.fail(res, &Failure{
			Kind:    KindValidation,
			Stage:   StageInput,
			Message: fmt.Sprintf("invalid input: %v", validated.Errors),
		}, StatusFailed)
	}
	e.pass(res, StageInput, nil)

	// 5. Resource reservation against the shared ledger.
	release, err := e.ledger.Reserve(def.Resources.MemoryMB, def.Resources.CPUPercent)
	if err != nil {
		return e.fail(res, &Failure{
			Kind: KindResourceExhausted, Stage: StageResources, Message: "ledger ceiling reached", Cause: err,
		}, StatusBlocked)
	}
	defer release()
	e.pass(res, StageResources, map[string]any{
		"memory_mb":   def.Resources.MemoryMB,
		"cpu_percent": def.Resources.CPUPercent,
	})

	// 6. Handler invocation, bounded by the tighter of the two timeouts.
	output, invokeErr := e.invoke(ctx, def, handler, validated.Sanitized, req.Timeout)
	if invokeErr != nil {
		if invokeErr.Kind == KindTimeout {
			// Timeout: the handler may still be running; its result is
			// discarded. Not charged to the breaker.
			return e.fail(res, invokeErr, StatusTimeout)
		}
		e.breaker.RecordFailure(def.ID)
		if info, ok := e.breaker.Info(def.ID); ok && info.State == guard.BreakerOpen {
			e.notify(alerting.SeverityCritical, fmt.Sprintf(
				"circuit breaker opened for tool %s after %d consecutive failures",
				def.ID, info.ConsecutiveFailures))
		}
		if def.Safety == tool.SafetyCritical || def.Safety == tool.SafetyHigh {
			e.notify(alerting.SeverityWarning, fmt.Sprintf(
				"%s-safety tool %s failed: %v", def.Safety, def.ID, invokeErr))
		}
		return e.fail(res, invokeErr, StatusFailed)
	}
	e.breaker.RecordSuccess(def.ID)
	e.pass(res, StageHandler, nil)

	// 7. Output sanitization: redact sensitive keys before returning.
	cleaned, redacted := redactOutput(output)
	e.pass(res, StageOutput, map[string]any{"redacted_keys": redacted})

	res.Status = StatusCompleted
	res.Output = cleaned
	return res
}

// invoke runs the handler with the effective timeout and never waits for a
// late result beyond it.
func (e *Executor) invoke(ctx context.Context, def *tool.Definition, handler tool.Handler, params map[string]any, reqTimeout time.Duration) (map[string]any, *Failure) {
	timeout := def.MaxExecutionTime
	if reqTimeout > 0 && (timeout <= 0 || reqTimeout < timeout) {
		timeout = reqTimeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := handler.Invoke(ctx, params)
		done <- outcome{out, err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Failure{
				Kind:    KindTimeout,
				Stage:   StageHandler,
				Message: fmt.Sprintf("handler exceeded %s", timeout),
			}
		}
		return nil, &Failure{
			Kind: KindInternal, Stage: StageHandler, Message: "execution cancelled", Cause: ctx.Err(),
		}
	case o := <-done:
		if o.err != nil {
			return nil, &Failure{
				Kind: KindInternal, Stage: StageHandler, Message: "handler error", Cause: o.err,
			}
		}
		return o.output, nil
	}
}

func (e *Executor) pass(res *Result, stage string, detail map[string]any) {
	res.AuditTrail = append(res.AuditTrail, AuditEntry{
		Stage:     stage,
		Outcome:   "passed",
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

func (e *Executor) fail(res *Result, f *Failure, status Status) *Result {
	res.AuditTrail = append(res.AuditTrail, AuditEntry{
		Stage:     f.Stage,
		Outcome:   "failed",
		Detail:    map[string]any{"kind": string(f.Kind), "error": f.Error()},
		Timestamp: time.Now(),
	})
	res.Status = status
	res.Error = f.Error()
	res.ErrorKind = f.Kind
	res.FailedStage = f.Stage

	e.logger.Debug("tool execution failed",
		zap.String("request", res.RequestID),
		zap.String("tool", res.ToolID),
		zap.String("stage", f.Stage),
		zap.String("kind", string(f.Kind)))
	return res
}

// record forwards the execution summary to the audit sink. Fire-and-forget.
func (e *Executor) record(req *Request, res *Result) {
	_ = e.sink.Record(context.Background(), audit.Event{
		Stage:   "tool_execution",
		Actor:   req.AgentID,
		Subject: res.ToolID,
		Outcome: string(res.Status),
		Detail: map[string]any{
			"request_id":   res.RequestID,
			"failed_stage": res.FailedStage,
			"duration_ms":  res.Duration.Milliseconds(),
		},
		Timestamp: res.CompletedAt,
	})
}

func (e *Executor) notify(sev alerting.Severity, msg string) {
	if e.alerts != nil {
		e.alerts.Notify(sev, "executor", msg)
	}
}
