package agent

import (
	"sync"
	"time"
)

// metricsWindow holds how many completions contribute to the rolling
// error rate and latency averages.
const metricsWindow = 50

// Metrics is a point-in-time snapshot of an agent's counters.
type Metrics struct {
	TasksCompleted       int64         `json:"tasks_completed"`
	TasksFailed          int64         `json:"tasks_failed"`
	ComplianceViolations int64         `json:"compliance_violations"`
	ErrorRate            float64       `json:"error_rate"`
	AvgExecutionTime     time.Duration `json:"avg_execution_time"`
}

type completion struct {
	failed   bool
	duration time.Duration
}

// metricsTracker accumulates lifetime counters and a rolling window of
// the most recent completions.
type metricsTracker struct {
	mu         sync.Mutex
	completed  int64
	failed     int64
	violations int64
	recent     []completion
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{}
}

func (m *metricsTracker) recordCompletion(failed bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.failed++
	} else {
		m.completed++
	}
	m.recent = append(m.recent, completion{failed: failed, duration: duration})
	if len(m.recent) > metricsWindow {
		m.recent = m.recent[len(m.recent)-metricsWindow:]
	}
}

func (m *metricsTracker) recordViolation() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations++
	return m.violations
}

// Snapshot computes the rolling error rate and average latency over the
// window.
func (m *metricsTracker) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Metrics{
		TasksCompleted:       m.completed,
		TasksFailed:          m.failed,
		ComplianceViolations: m.violations,
	}
	if len(m.recent) == 0 {
		return s
	}
	var failures int
	var total time.Duration
	for _, c := range m.recent {
		if c.failed {
			failures++
		}
		total += c.duration
	}
	s.ErrorRate = float64(failures) / float64(len(m.recent))
	s.AvgExecutionTime = total / time.Duration(len(m.recent))
	return s
}
