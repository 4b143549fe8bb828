// Package guard holds the protective primitives the safe executor composes:
// per-(agent,tool) rate limiting, per-tool circuit breaking, and a global
// resource ledger. All three are safe for concurrent use with per-key
// locking so unrelated keys never contend.
package guard

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitInfo tracks call counts for one (agent, tool) pair within the
// current clock hour.
type RateLimitInfo struct {
	AgentID       string     `json:"agent_id"`
	ToolID        string     `json:"tool_id"`
	CallsThisHour int        `json:"calls_this_hour"`
	WindowStart   time.Time  `json:"window_start"`
	LastCall      time.Time  `json:"last_call"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
	TotalCalls    int64      `json:"total_calls"`
}

// RateLimiter enforces a per-(agent,tool) hourly call quota. The window is
// the wall-clock hour: when a pair exhausts its quota it is blocked until
// the top of the next hour.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	now     func() time.Time
}

type rateEntry struct {
	mu   sync.Mutex
	info RateLimitInfo
}

// NewRateLimiter creates a rate limiter using wall-clock time.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (rl *RateLimiter) SetClock(now func() time.Time) { rl.now = now }

func rateKey(agentID, toolID string) string {
	return agentID + "\x00" + toolID
}

// entry returns the per-key record, creating it under the table lock.
// Per-key state is mutated only under the entry's own lock.
func (rl *RateLimiter) entry(agentID, toolID string) *rateEntry {
	key := rateKey(agentID, toolID)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.entries[key]
	if !ok {
		e = &rateEntry{info: RateLimitInfo{AgentID: agentID, ToolID: toolID}}
		rl.entries[key] = e
	}
	return e
}

// Allow charges one call against the pair's quota. When the call would
// exceed limitPerHour the pair is blocked until the next hour boundary and
// an error is returned; calls while already blocked fail without mutating
// any counter.
func (rl *RateLimiter) Allow(agentID, toolID string, limitPerHour int) error {
	if limitPerHour <= 0 {
		return nil
	}
	e := rl.entry(agentID, toolID)
	now := rl.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.info.BlockedUntil != nil {
		if now.Before(*e.info.BlockedUntil) {
			return fmt.Errorf("rate limit for tool %s exceeded, blocked until %s",
				toolID, e.info.BlockedUntil.Format(time.RFC3339))
		}
		e.info.BlockedUntil = nil
	}

	hour := now.Truncate(time.Hour)
	if !e.info.WindowStart.Equal(hour) {
		e.info.WindowStart = hour
		e.info.CallsThisHour = 0
	}

	if e.info.CallsThisHour >= limitPerHour {
		next := hour.Add(time.Hour)
		e.info.BlockedUntil = &next
		return fmt.Errorf("rate limit for tool %s exceeded (%d/hour), blocked until %s",
			toolID, limitPerHour, next.Format(time.RFC3339))
	}

	e.info.CallsThisHour++
	e.info.TotalCalls++
	e.info.LastCall = now
	return nil
}

// Info returns a copy of the current record for a pair, if present.
func (rl *RateLimiter) Info(agentID, toolID string) (RateLimitInfo, bool) {
	rl.mu.Lock()
	e, ok := rl.entries[rateKey(agentID, toolID)]
	rl.mu.Unlock()
	if !ok {
		return RateLimitInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info, true
}
