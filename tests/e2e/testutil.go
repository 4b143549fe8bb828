package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/warden/internal/audit"
	"github.com/nidhogg/warden/internal/bus"
	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/guard"
	"github.com/nidhogg/warden/internal/orchestrator"
	"github.com/nidhogg/warden/internal/router"
	pgstore "github.com/nidhogg/warden/internal/store"
	"github.com/nidhogg/warden/internal/tool"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state, set by TestMain and used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("warden_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// newPGSink builds a synchronous audit sink over the shared pool.
func newPGSink() audit.Sink {
	return audit.NewPostgresSink(testPGStore.Pool())
}

// controlPlane bundles a fully wired orchestration stack for one test.
type controlPlane struct {
	orch *orchestrator.Orchestrator
	bus  bus.Bus
	rt   *router.Router
}

// setupControlPlane wires the tool registry, safety pipeline, Redis bus,
// and orchestrator against the shared containers. The audit sink writes
// synchronously to Postgres so tests can assert on persisted events.
func setupControlPlane(t *testing.T) *controlPlane {
	t.Helper()

	evaluator := compliance.NewRuleEvaluator(nil, testLogger)

	reg := tool.NewRegistry(testLogger)
	if err := tool.RegisterBuiltinTools(reg, nil, evaluator); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	reg.Freeze()

	exec := executor.New(
		guard.NewRateLimiter(),
		guard.NewCircuitBreaker(guard.DefaultFailureThreshold, guard.DefaultCooldown),
		guard.NewResourceLedger(guard.DefaultMemoryCeilingMB, guard.DefaultCPUCeilingPercent),
		nil,
		newPGSink(),
		nil,
		testLogger,
	)
	rt := router.New(reg, exec, testLogger)

	messageBus, err := bus.NewRedisBus(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("create redis bus: %v", err)
	}
	t.Cleanup(func() { messageBus.Close() })

	orch := orchestrator.New(rt, evaluator, messageBus, nil, newPGSink(), testPGStore, testLogger)
	t.Cleanup(orch.Shutdown)

	return &controlPlane{orch: orch, bus: messageBus, rt: rt}
}

// waitForTerminal polls workflow status until it reaches a terminal state.
func waitForTerminal(t *testing.T, orch *orchestrator.Orchestrator, id string, timeout time.Duration) orchestrator.Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		snap, ok := orch.GetWorkflowStatus(id)
		if !ok {
			t.Fatalf("workflow %s not found", id)
		}
		if snap.State.Terminal() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s stuck in %s", id, snap.State)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
