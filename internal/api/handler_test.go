package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/guard"
	"github.com/nidhogg/warden/internal/orchestrator"
	"github.com/nidhogg/warden/internal/router"
	"github.com/nidhogg/warden/internal/tool"
	"go.uber.org/zap"
)

// newTestHandler creates a Handler wired with in-memory deps (no
// Postgres/Redis) and the rule-based compliance evaluator.
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	evaluator := compliance.NewRuleEvaluator(nil, logger)

	reg := tool.NewRegistry(logger)
	if err := tool.RegisterBuiltinTools(reg, nil, evaluator); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	reg.Freeze()

	exec := executor.New(
		guard.NewRateLimiter(),
		guard.NewCircuitBreaker(guard.DefaultFailureThreshold, guard.DefaultCooldown),
		guard.NewResourceLedger(guard.DefaultMemoryCeilingMB, guard.DefaultCPUCeilingPercent),
		nil, nil, nil,
		logger,
	)
	rt := router.New(reg, exec, logger)
	orch := orchestrator.New(rt, evaluator, nil, nil, nil, nil, logger)
	t.Cleanup(orch.Shutdown)

	h := NewHandler(orch, rt, "sha256:testhash", logger)
	return h, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// envelope is the standard response wrapper.
type envelope struct {
	ConstitutionHash string          `json:"constitution_hash"`
	Data             json.RawMessage `json:"data"`
	Error            string          `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response, v any) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if v != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	env := decodeEnvelope(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if env.ConstitutionHash != "sha256:testhash" {
		t.Errorf("expected constitution hash pass-through, got %q", env.ConstitutionHash)
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Malformed request: requirements missing
	resp := postJSON(t, ts, "/api/workflows", map[string]any{"name": "incomplete"})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for malformed request, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Initiate
	resp = postJSON(t, ts, "/api/workflows", map[string]any{
		"name":         "gdpr-policy",
		"requirements": map[string]any{"jurisdiction": "EU"},
		"strategy":     "sequential",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("initiate: expected 201, got %d", resp.StatusCode)
	}
	var snap orchestrator.Snapshot
	decodeEnvelope(t, resp, &snap)
	if snap.ID == "" {
		t.Fatal("expected workflow id")
	}

	// Poll status until terminal
	deadline := time.After(5 * time.Second)
	for {
		resp = getJSON(t, ts, "/api/workflows/"+snap.ID)
		if resp.StatusCode != 200 {
			t.Fatalf("get: expected 200, got %d", resp.StatusCode)
		}
		var current orchestrator.Snapshot
		decodeEnvelope(t, resp, &current)
		if current.State.Terminal() {
			if current.State != orchestrator.WorkflowCompleted {
				t.Fatalf("state = %s, errors = %v", current.State, current.ErrorLog)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("workflow stuck in %s", current.State)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// Cancel after terminal is a no-op success
	resp = deleteReq(t, ts, "/api/workflows/"+snap.ID)
	if resp.StatusCode != 200 {
		t.Errorf("cancel terminal workflow: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown workflow
	resp = getJSON(t, ts, "/api/workflows/nonexistent")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Create
	resp := postJSON(t, ts, "/api/agents", map[string]any{
		"id":           "analyst-1",
		"role":         "policy_analyst",
		"capabilities": []string{"research"},
		"tools_allowed": []string{
			"echo", "regulatory_search",
		},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}

	// Duplicate ID conflicts
	resp = postJSON(t, ts, "/api/agents", map[string]any{"id": "analyst-1"})
	if resp.StatusCode != 409 {
		t.Errorf("duplicate: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Get
	resp = getJSON(t, ts, "/api/agents/analyst-1")
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var status map[string]any
	decodeEnvelope(t, resp, &status)
	if status["role"] != "policy_analyst" {
		t.Errorf("role = %v", status["role"])
	}

	// Shutdown
	resp = deleteReq(t, ts, "/api/agents/analyst-1")
	if resp.StatusCode != 200 {
		t.Fatalf("shutdown: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/agents/analyst-1")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 after shutdown, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestToolEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Full catalog
	resp := getJSON(t, ts, "/api/tools")
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var defs []map[string]any
	decodeEnvelope(t, resp, &defs)
	if len(defs) != 5 {
		t.Errorf("expected 5 builtin tools, got %d", len(defs))
	}

	// Safety filter
	resp = getJSON(t, ts, "/api/tools?safety=low")
	decodeEnvelope(t, resp, &defs)
	if len(defs) != 1 {
		t.Errorf("expected 1 low-safety tool, got %d", len(defs))
	}

	// Single definition
	resp = getJSON(t, ts, "/api/tools/echo")
	if resp.StatusCode != 200 {
		t.Fatalf("get tool: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/tools/nope")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExecuteTool(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tools/execute", map[string]any{
		"agent_id": "caller-1",
		"tool_id":  "echo",
		"params":   map[string]any{"message": "ping"},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("execute: expected 200, got %d", resp.StatusCode)
	}
	var result executor.Result
	decodeEnvelope(t, resp, &result)
	if result.Status != executor.StatusCompleted {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if result.Output["message"] != "ping" {
		t.Errorf("output = %v", result.Output)
	}
	if len(result.AuditTrail) == 0 {
		t.Error("expected audit trail in response")
	}

	// Unknown tool still returns a structured result, not a 5xx.
	resp = postJSON(t, ts, "/api/tools/execute", map[string]any{
		"agent_id": "caller-1",
		"tool_id":  "missing",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	decodeEnvelope(t, resp, &result)
	if result.Status != executor.StatusFailed || result.FailedStage != "tool_resolution" {
		t.Errorf("status = %s stage = %s", result.Status, result.FailedStage)
	}

	// Missing fields
	resp = postJSON(t, ts, "/api/tools/execute", map[string]any{"tool_id": "echo"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCoordinateEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/agents", map[string]any{
		"id":            "worker-1",
		"tools_allowed": []string{"echo"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create agent: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/workflows/coordinate", map[string]any{
		"strategy": "sequential",
		"tasks": []map[string]any{
			{
				"id":             "t1",
				"type":           "analysis",
				"priority":       "medium",
				"params":         map[string]any{"message": "go"},
				"required_tools": []string{"echo"},
			},
		},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("coordinate: expected 200, got %d", resp.StatusCode)
	}
	var result orchestrator.CoordinationResult
	decodeEnvelope(t, resp, &result)
	if !result.Succeeded {
		t.Errorf("result = %+v", result)
	}
}
