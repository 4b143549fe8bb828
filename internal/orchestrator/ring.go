package orchestrator

import "sync"

// completedRing keeps the most recent terminal workflows, evicting the
// oldest when full.
type completedRing struct {
	mu       sync.RWMutex
	items    []*Workflow
	index    map[string]*Workflow
	capacity int
}

func newCompletedRing(capacity int) *completedRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &completedRing{
		index:    make(map[string]*Workflow),
		capacity: capacity,
	}
}

func (r *completedRing) Add(w *Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[w.ID]; exists {
		return
	}
	if len(r.items) >= r.capacity {
		evicted := r.items[0]
		r.items = r.items[1:]
		delete(r.index, evicted.ID)
	}
	r.items = append(r.items, w)
	r.index[w.ID] = w
}

func (r *completedRing) Get(id string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.index[id]
	return w, ok
}

func (r *completedRing) List() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workflow, len(r.items))
	copy(out, r.items)
	return out
}

func (r *completedRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
