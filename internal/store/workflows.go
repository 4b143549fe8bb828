package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/warden/internal/orchestrator"
)

// SaveWorkflow upserts a terminal workflow snapshot. Implements
// orchestrator.WorkflowStore.
func (s *Store) SaveWorkflow(ctx context.Context, snap orchestrator.Snapshot) error {
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal workflow metrics: %w", err)
	}
	errorLog, err := json.Marshal(snap.ErrorLog)
	if err != nil {
		return fmt.Errorf("marshal workflow error log: %w", err)
	}
	agents, err := json.Marshal(snap.AssignedAgents)
	if err != nil {
		return fmt.Errorf("marshal workflow agents: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (id, name, strategy, state, current_step, assigned_agents, metrics, error_log, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			current_step = EXCLUDED.current_step,
			assigned_agents = EXCLUDED.assigned_agents,
			metrics = EXCLUDED.metrics,
			error_log = EXCLUDED.error_log,
			completed_at = EXCLUDED.completed_at`,
		snap.ID, snap.Name, string(snap.Strategy), string(snap.State),
		snap.CurrentStep, agents, metrics, errorLog,
		snap.StartedAt, snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", snap.ID, err)
	}
	return nil
}

// GetWorkflow retrieves a persisted workflow snapshot by ID.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*orchestrator.Snapshot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, strategy, state, current_step, assigned_agents, metrics, error_log, started_at, completed_at
		FROM workflows WHERE id = $1`, id)

	var snap orchestrator.Snapshot
	var strategy, state string
	var agents, metrics, errorLog []byte
	err := row.Scan(
		&snap.ID, &snap.Name, &strategy, &state, &snap.CurrentStep,
		&agents, &metrics, &errorLog, &snap.StartedAt, &snap.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	snap.Strategy = orchestrator.Strategy(strategy)
	snap.State = orchestrator.WorkflowState(state)
	if err := json.Unmarshal(agents, &snap.AssignedAgents); err != nil {
		return nil, fmt.Errorf("decode workflow agents: %w", err)
	}
	if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
		return nil, fmt.Errorf("decode workflow metrics: %w", err)
	}
	if err := json.Unmarshal(errorLog, &snap.ErrorLog); err != nil {
		return nil, fmt.Errorf("decode workflow error log: %w", err)
	}
	return &snap, nil
}

// ListWorkflows returns persisted workflows, newest first.
func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]*orchestrator.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, strategy, state, current_step, assigned_agents, metrics, error_log, started_at, completed_at
		FROM workflows ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.Snapshot
	for rows.Next() {
		var snap orchestrator.Snapshot
		var strategy, state string
		var agents, metrics, errorLog []byte
		if err := rows.Scan(
			&snap.ID, &snap.Name, &strategy, &state, &snap.CurrentStep,
			&agents, &metrics, &errorLog, &snap.StartedAt, &snap.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		snap.Strategy = orchestrator.Strategy(strategy)
		snap.State = orchestrator.WorkflowState(state)
		if err := json.Unmarshal(agents, &snap.AssignedAgents); err != nil {
			return nil, fmt.Errorf("decode workflow agents: %w", err)
		}
		if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
			return nil, fmt.Errorf("decode workflow metrics: %w", err)
		}
		if err := json.Unmarshal(errorLog, &snap.ErrorLog); err != nil {
			return nil, fmt.Errorf("decode workflow error log: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}
