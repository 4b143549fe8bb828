package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/warden/internal/agent"
	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/orchestrator"
	"github.com/nidhogg/warden/internal/router"
	"github.com/nidhogg/warden/internal/tool"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers. Every response carries
// the active constitution hash as an opaque pass-through field.
type Handler struct {
	orch             *orchestrator.Orchestrator
	tools            *router.Router
	constitutionHash string
	logger           *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *orchestrator.Orchestrator, tools *router.Router, constitutionHash string, logger *zap.Logger) *Handler {
	return &Handler{
		orch:             orch,
		tools:            tools,
		constitutionHash: constitutionHash,
		logger:           logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Workflow routes
		r.Post("/workflows", h.initiateWorkflow)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Delete("/workflows/{id}", h.cancelWorkflow)
		r.Post("/workflows/coordinate", h.coordinate)

		// Agent routes
		r.Post("/agents", h.createAgent)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.shutdownAgent)

		// Tool routes
		r.Get("/tools", h.listTools)
		r.Get("/tools/{id}", h.getTool)
		r.Post("/tools/execute", h.executeTool)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) initiateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.orch.InitiateWorkflow(&req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orch.ListWorkflows())
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := h.orch.GetWorkflowStatus(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.CancelWorkflow(r.Context(), id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "workflow_id": id})
}

func (h *Handler) coordinate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CoordinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.orch.CoordinateMultiAgentTask(r.Context(), &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var cfg agent.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.orch.CreateAgent(cfg)
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, a.Status())
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orch.ListAgents())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, ok := h.orch.GetAgentStatus(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) shutdownAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.ShutdownAgent(id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "terminated", "agent_id": id})
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	if safety := r.URL.Query().Get("safety"); safety != "" {
		h.writeJSON(w, http.StatusOK, h.tools.ToolsBySafety(tool.SafetyLevel(safety)))
		return
	}
	h.writeJSON(w, http.StatusOK, h.tools.Tools())
}

func (h *Handler) getTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, ok := h.tools.Definition(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "tool not found")
		return
	}
	h.writeJSON(w, http.StatusOK, def)
}

type executeToolRequest struct {
	AgentID  string            `json:"agent_id"`
	ToolID   string            `json:"tool_id"`
	Params   map[string]any    `json:"params,omitempty"`
	Priority string            `json:"priority,omitempty"`
	TimeoutS float64           `json:"timeout_seconds,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) executeTool(w http.ResponseWriter, r *http.Request) {
	var req executeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" || req.ToolID == "" {
		h.writeError(w, http.StatusBadRequest, "agent_id and tool_id are required")
		return
	}

	result := h.tools.Route(r.Context(), &executor.Request{
		AgentID:  req.AgentID,
		ToolID:   req.ToolID,
		Params:   req.Params,
		Priority: executor.Priority(req.Priority),
		Timeout:  time.Duration(req.TimeoutS * float64(time.Second)),
		Metadata: req.Metadata,
	})
	// The executor never panics outward; failures arrive as a result
	// with status, error kind, and failing stage.
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"constitution_hash": h.constitutionHash,
		"data":              v,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"constitution_hash": h.constitutionHash,
		"error":             msg,
	})
}
