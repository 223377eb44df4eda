package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo persists audit events in an insert-only table.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    id         UUID PRIMARY KEY,
//	    call_id    TEXT NOT NULL,
//	    type       TEXT NOT NULL,
//	    actor      TEXT NOT NULL DEFAULT '',
//	    actor_role TEXT NOT NULL DEFAULT '',
//	    target     TEXT NOT NULL DEFAULT '',
//	    message    TEXT NOT NULL DEFAULT '',
//	    metadata   TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX audit_events_call_idx ON audit_events (call_id, created_at);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, call_id, type, actor, actor_role, target, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.CallID, string(e.Type), e.Actor, e.ActorRole, e.Target, e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_id, type, actor, actor_role, target, message, metadata, created_at
		FROM audit_events
		WHERE call_id = $1
		ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.Actor, &e.ActorRole, &e.Target, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return out, nil
}
