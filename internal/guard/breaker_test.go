package guard

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb.SetClock(func() time.Time { return base })

	for i := 0; i < 4; i++ {
		cb.RecordFailure("y")
		if err := cb.Allow("y"); err != nil {
			t.Fatalf("breaker opened early after %d failures: %v", i+1, err)
		}
	}
	cb.RecordFailure("y")
	if err := cb.Allow("y"); err == nil {
		t.Fatal("breaker should be open after 5 consecutive failures")
	}

	info, _ := cb.Info("y")
	if info.State != BreakerOpen {
		t.Errorf("state = %s, want open", info.State)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb.SetClock(func() time.Time { return now })

	cb.RecordFailure("y")
	cb.RecordFailure("y")
	if err := cb.Allow("y"); err == nil {
		t.Fatal("expected open breaker")
	}

	// After the cooldown one trial call is let through.
	now = now.Add(2 * time.Minute)
	if err := cb.Allow("y"); err != nil {
		t.Fatalf("trial call should be admitted: %v", err)
	}
	info, _ := cb.Info("y")
	if info.State != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", info.State)
	}

	// Trial failure re-opens immediately, regardless of the count.
	cb.RecordFailure("y")
	if err := cb.Allow("y"); err == nil {
		t.Fatal("failed trial should re-open the breaker")
	}
}

func TestBreakerClosesOnTrialSuccess(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb.SetClock(func() time.Time { return now })

	cb.RecordFailure("y")
	cb.RecordFailure("y")
	now = now.Add(2 * time.Minute)
	if err := cb.Allow("y"); err != nil {
		t.Fatalf("trial: %v", err)
	}
	cb.RecordSuccess("y")

	info, _ := cb.Info("y")
	if info.State != BreakerClosed {
		t.Errorf("state = %s, want closed", info.State)
	}
	if info.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", info.ConsecutiveFailures)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	cb.RecordFailure("y")
	cb.RecordFailure("y")
	cb.RecordSuccess("y")
	cb.RecordFailure("y")
	cb.RecordFailure("y")
	if err := cb.Allow("y"); err != nil {
		t.Fatalf("non-consecutive failures must not open the breaker: %v", err)
	}
}

func TestBreakerToolsIndependent(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure("bad")
	if err := cb.Allow("bad"); err == nil {
		t.Fatal("expected open breaker for bad")
	}
	if err := cb.Allow("good"); err != nil {
		t.Fatalf("unrelated tool affected: %v", err)
	}
}
