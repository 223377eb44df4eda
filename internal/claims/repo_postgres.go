package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresRepo stores claims in a single table with the free-form fields
// serialized as JSON. Used when no external claims backend is configured.
//
// Schema:
//
//	CREATE TABLE claims (
//	    claim_id TEXT PRIMARY KEY,
//	    status   TEXT NOT NULL,
//	    fields   JSONB NOT NULL DEFAULT '{}'
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, claimID string) (Claim, error) {
	var c Claim
	var fields []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT claim_id, status, fields FROM claims WHERE claim_id = $1`, claimID,
	).Scan(&c.ClaimID, &c.Status, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return Claim{}, ErrNotFound
	}
	if err != nil {
		return Claim{}, fmt.Errorf("claims: get %s: %w", claimID, err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return Claim{}, fmt.Errorf("claims: decode fields for %s: %w", claimID, err)
		}
	}
	return c, nil
}

func (r *PostgresRepo) Update(ctx context.Context, c Claim) (Claim, error) {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return Claim{}, fmt.Errorf("claims: encode fields for %s: %w", c.ClaimID, err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE claims SET status = $2, fields = $3 WHERE claim_id = $1`,
		c.ClaimID, c.Status, fields,
	)
	if err != nil {
		return Claim{}, fmt.Errorf("claims: update %s: %w", c.ClaimID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Claim{}, fmt.Errorf("claims: update %s: %w", c.ClaimID, err)
	}
	if n == 0 {
		return Claim{}, ErrNotFound
	}
	return c, nil
}
