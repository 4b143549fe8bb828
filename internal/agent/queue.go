package agent

import "sync"

// taskQueue is a bounded priority queue. Dequeue returns the highest
// priority pending task; within a priority, arrival order is preserved.
type taskQueue struct {
	mu       sync.Mutex
	items    []*Task
	capacity int
	seq      map[string]int
	next     int
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		capacity = 32
	}
	return &taskQueue{
		capacity: capacity,
		seq:      make(map[string]int),
	}
}

// Push appends a task. Returns false when the queue is full.
func (q *taskQueue) Push(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.seq[t.ID] = q.next
	q.next++
	q.items = append(q.items, t)
	return true
}

// Pop removes and returns the best task, or nil when empty.
func (q *taskQueue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(q.items); i++ {
		ri, rb := priorityRank(q.items[i].Priority), priorityRank(q.items[best].Priority)
		if ri < rb || (ri == rb && q.seq[q.items[i].ID] < q.seq[q.items[best].ID]) {
			best = i
		}
	}
	t := q.items[best]
	q.items = append(q.items[:best], q.items[best+1:]...)
	delete(q.seq, t.ID)
	return t
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes all queued tasks and returns them.
func (q *taskQueue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	q.seq = make(map[string]int)
	return out
}
