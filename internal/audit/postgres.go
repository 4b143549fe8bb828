package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends audit events to the audit_events table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a sink on an existing connection pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Record implements Sink.
func (s *PostgresSink) Record(ctx context.Context, ev Event) error {
	detail, _ := json.Marshal(ev.Detail)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (stage, actor, subject, outcome, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Stage, ev.Actor, ev.Subject, ev.Outcome, detail, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
