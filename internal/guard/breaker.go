package guard

import (
	"fmt"
	"sync"
	"time"
)

// Breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	// DefaultFailureThreshold is how many consecutive failures open a breaker.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long an open breaker waits before a trial call.
	DefaultCooldown = 5 * time.Minute
)

// BreakerInfo is a snapshot of one tool's breaker.
type BreakerInfo struct {
	ToolID              string       `json:"tool_id"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         time.Time    `json:"last_failure"`
	NextRetry           time.Time    `json:"next_retry"`
}

// CircuitBreaker guards each tool against persistent failure. After
// failureThreshold consecutive failures the breaker opens; once the
// cooldown passes exactly one trial call is admitted (half-open); its
// outcome closes or re-opens the breaker.
type CircuitBreaker struct {
	mu               sync.Mutex
	tools            map[string]*breakerEntry
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

type breakerEntry struct {
	mu   sync.Mutex
	info BreakerInfo
}

// NewCircuitBreaker creates a breaker table with the given thresholds.
// Zero values fall back to the defaults.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		tools:            make(map[string]*breakerEntry),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (cb *CircuitBreaker) SetClock(now func() time.Time) { cb.now = now }

func (cb *CircuitBreaker) entry(toolID string) *breakerEntry {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	e, ok := cb.tools[toolID]
	if !ok {
		e = &breakerEntry{info: BreakerInfo{ToolID: toolID, State: BreakerClosed}}
		cb.tools[toolID] = e
	}
	return e
}

// Allow checks whether a call to the tool may proceed. An open breaker
// whose cooldown has elapsed moves to half-open and admits one trial call.
func (cb *CircuitBreaker) Allow(toolID string) error {
	e := cb.entry(toolID)
	now := cb.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.info.State {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if now.Before(e.info.NextRetry) {
			return fmt.Errorf("circuit open for tool %s, retry after %s",
				toolID, e.info.NextRetry.Format(time.RFC3339))
		}
		e.info.State = BreakerHalfOpen
		return nil
	}
	return nil
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess(toolID string) {
	e := cb.entry(toolID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.ConsecutiveFailures = 0
	e.info.State = BreakerClosed
}

// RecordFailure counts a handler failure. Reaching the threshold, or
// failing the half-open trial, opens the breaker for the cooldown period.
func (cb *CircuitBreaker) RecordFailure(toolID string) {
	e := cb.entry(toolID)
	now := cb.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.info.ConsecutiveFailures++
	e.info.LastFailure = now

	if e.info.State == BreakerHalfOpen || e.info.ConsecutiveFailures >= cb.failureThreshold {
		e.info.State = BreakerOpen
		e.info.NextRetry = now.Add(cb.cooldown)
	}
}

// Info returns a snapshot of a tool's breaker, if one exists.
func (cb *CircuitBreaker) Info(toolID string) (BreakerInfo, bool) {
	cb.mu.Lock()
	e, ok := cb.tools[toolID]
	cb.mu.Unlock()
	if !ok {
		return BreakerInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info, true
}
