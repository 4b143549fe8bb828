package guard

import (
	"fmt"
	"sync"
)

const (
	// DefaultMemoryCeilingMB caps aggregate provisional memory allocation.
	DefaultMemoryCeilingMB = 4096
	// DefaultCPUCeilingPercent caps aggregate provisional CPU allocation.
	DefaultCPUCeilingPercent = 80.0
)

// ResourceLedger tracks provisional memory/CPU allocation across all
// in-flight executions. It is an admission check on declared requirements,
// not a measurement of real usage.
type ResourceLedger struct {
	mu              sync.Mutex
	memoryMB        int
	cpuPercent      float64
	memoryCeiling   int
	cpuCeiling      float64
	activeContracts int
}

// NewResourceLedger creates a ledger with the given ceilings. Zero values
// fall back to the defaults.
func NewResourceLedger(memoryCeilingMB int, cpuCeilingPercent float64) *ResourceLedger {
	if memoryCeilingMB <= 0 {
		memoryCeilingMB = DefaultMemoryCeilingMB
	}
	if cpuCeilingPercent <= 0 {
		cpuCeilingPercent = DefaultCPUCeilingPercent
	}
	return &ResourceLedger{
		memoryCeiling: memoryCeilingMB,
		cpuCeiling:    cpuCeilingPercent,
	}
}

// Reserve charges the declared requirement against the ledger. On success
// it returns a release func, safe to call more than once; exactly one
// reservation exists per execution for its lifetime.
func (l *ResourceLedger) Reserve(memoryMB int, cpuPercent float64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.memoryMB+memoryMB > l.memoryCeiling {
		return nil, fmt.Errorf("memory ceiling exceeded: %d+%d > %d MB",
			l.memoryMB, memoryMB, l.memoryCeiling)
	}
	if l.cpuPercent+cpuPercent > l.cpuCeiling {
		return nil, fmt.Errorf("cpu ceiling exceeded: %.1f+%.1f > %.1f%%",
			l.cpuPercent, cpuPercent, l.cpuCeiling)
	}

	l.memoryMB += memoryMB
	l.cpuPercent += cpuPercent
	l.activeContracts++

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.memoryMB -= memoryMB
			l.cpuPercent -= cpuPercent
			l.activeContracts--
			l.mu.Unlock()
		})
	}
	return release, nil
}

// Usage returns the current aggregate allocation.
func (l *ResourceLedger) Usage() (memoryMB int, cpuPercent float64, active int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memoryMB, l.cpuPercent, l.activeContracts
}
