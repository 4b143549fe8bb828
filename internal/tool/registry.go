package tool

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is the catalog of tool definitions and their handlers.
// Registration happens at startup; after Freeze the registry is
// read-only and lookups take no lock.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	defs     map[string]*Definition
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		defs:     make(map[string]*Definition),
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a definition and its handler. Fails on duplicate IDs and
// after Freeze; definitions are immutable once accepted.
func (r *Registry) Register(def *Definition, handler Handler) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("tool definition must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", def.ID)
	}
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("tool %q already registered", def.ID)
	}
	r.defs[def.ID] = def
	r.handlers[def.ID] = handler
	r.logger.Info("registered tool",
		zap.String("id", def.ID),
		zap.String("safety", string(def.Safety)))
	return nil
}

// Freeze marks the registry read-only. Called once wiring is complete.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the definition and handler for a tool ID.
func (r *Registry) Get(id string) (*Definition, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, nil, false
	}
	return def, r.handlers[id], true
}

// Definition returns just the definition for a tool ID.
func (r *Registry) Definition(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// List returns all definitions sorted by ID.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FilterBySafety returns definitions at or below the given safety level.
func (r *Registry) FilterBySafety(max SafetyLevel) []*Definition {
	rank := safetyRank(max)
	var out []*Definition
	for _, d := range r.List() {
		if safetyRank(d.Safety) <= rank {
			out = append(out, d)
		}
	}
	return out
}

// FilterByTag returns definitions carrying the given tag.
func (r *Registry) FilterByTag(tag string) []*Definition {
	var out []*Definition
	for _, d := range r.List() {
		if d.HasTag(tag) {
			out = append(out, d)
		}
	}
	return out
}

func safetyRank(s SafetyLevel) int {
	switch s {
	case SafetyLow:
		return 0
	case SafetyMedium:
		return 1
	case SafetyHigh:
		return 2
	case SafetyCritical:
		return 3
	}
	return 3
}
