package callstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists CallState as a JSONB document keyed by call_id,
// partitioned by caller_number.
//
// Schema (migrations are owned by deploy tooling):
//
//	CREATE TABLE call_states (
//	    call_id       TEXT PRIMARY KEY,
//	    caller_number TEXT NOT NULL,
//	    version       BIGINT NOT NULL,
//	    doc           JSONB NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL,
//	    archived_at   TIMESTAMPTZ
//	);
//	CREATE INDEX call_states_caller_idx ON call_states (caller_number);
//
// Optimistic concurrency: Update persists via
// UPDATE ... WHERE call_id = $n AND version = $n; zero rows affected with an
// existing row means another writer won the race.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (p *PostgresStore) Create(ctx context.Context, s *CallState) (*CallState, error) {
	now := p.clock().UTC()
	stored := s.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("callstate: marshal doc: %w", err)
	}

	const q = `
		INSERT INTO call_states (call_id, caller_number, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := p.db.ExecContext(ctx, q, stored.CallID, stored.CallerNumber, stored.Version, doc, now, now); err != nil {
		return nil, fmt.Errorf("callstate: insert: %w", err)
	}
	return stored, nil
}

func (p *PostgresStore) Load(ctx context.Context, callID string) (*CallState, error) {
	const q = `SELECT doc FROM call_states WHERE call_id = $1`

	var doc []byte
	err := p.db.QueryRowContext(ctx, q, callID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("callstate: load: %w", err)
	}

	var s CallState
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("callstate: unmarshal doc: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) Update(ctx context.Context, callID string, expectedVersion int64, fn Mutator) (*CallState, error) {
	cur, err := p.Load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = p.clock().UTC()

	doc, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("callstate: marshal doc: %w", err)
	}

	const q = `
		UPDATE call_states
		SET version = $1, doc = $2, updated_at = $3, archived_at = $4
		WHERE call_id = $5 AND version = $6`
	res, err := p.db.ExecContext(ctx, q, next.Version, doc, next.UpdatedAt, next.ArchivedAt, callID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("callstate: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("callstate: rows affected: %w", err)
	}
	if n == 0 {
		// Row exists (loaded above) but the version moved under us.
		return nil, ErrVersionConflict
	}
	return next, nil
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]*CallState, error) {
	const q = `SELECT doc FROM call_states WHERE archived_at IS NULL ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("callstate: list active: %w", err)
	}
	defer rows.Close()

	var out []*CallState
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("callstate: scan: %w", err)
		}
		var s CallState
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("callstate: unmarshal doc: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
