package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"claimline/internal/claims"
	"claimline/internal/resilience"
)

// GetClaimTool looks up a claim for the caller.
type GetClaimTool struct {
	Claims *claims.Service
}

func (t *GetClaimTool) Name() string { return "get_claim" }

func (t *GetClaimTool) Description() string {
	return "Look up an insurance claim by its claim number (format CLM-000000). Returns the claim status and recorded fields."
}

func (t *GetClaimTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"claim_id": {"type": "string", "description": "Claim number, e.g. CLM-004211"}
		},
		"required": ["claim_id"]
	}`)
}

func (t *GetClaimTool) Execute(ctx context.Context, args json.RawMessage) (Outcome, error) {
	var in struct {
		ClaimID string `json:"claim_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Outcome{}, resilience.Permanent(err)
	}

	c, err := t.Claims.Get(ctx, in.ClaimID)
	if err != nil {
		return Outcome{}, classifyClaimErr(err)
	}
	body, err := json.Marshal(c)
	if err != nil {
		return Outcome{}, resilience.Permanent(err)
	}
	return Outcome{Content: string(body)}, nil
}

// UpdateClaimTool records new claim information gathered during the call.
type UpdateClaimTool struct {
	Claims *claims.Service
}

func (t *UpdateClaimTool) Name() string { return "update_claim" }

func (t *UpdateClaimTool) Description() string {
	return "Update an insurance claim: set its status and/or record structured fields gathered from the caller."
}

func (t *UpdateClaimTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"claim_id": {"type": "string", "description": "Claim number, e.g. CLM-004211"},
			"status": {"type": "string", "description": "New status: filed, under_review, approved, denied or paid"},
			"fields": {"type": "object", "description": "Field name to value map to merge into the claim"}
		},
		"required": ["claim_id"]
	}`)
}

func (t *UpdateClaimTool) Execute(ctx context.Context, args json.RawMessage) (Outcome, error) {
	var in struct {
		ClaimID string            `json:"claim_id"`
		Status  string            `json:"status"`
		Fields  map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Outcome{}, resilience.Permanent(err)
	}

	c, err := t.Claims.Update(ctx, in.ClaimID, in.Status, in.Fields)
	if err != nil {
		return Outcome{}, classifyClaimErr(err)
	}
	body, err := json.Marshal(c)
	if err != nil {
		return Outcome{}, resilience.Permanent(err)
	}
	return Outcome{Content: fmt.Sprintf(`{"updated": true, "claim": %s}`, body)}, nil
}

// classifyClaimErr marks validation and not-found failures fatal; they will
// not improve on retry. Backend transport errors stay retryable.
func classifyClaimErr(err error) error {
	switch {
	case errors.Is(err, claims.ErrNotFound),
		errors.Is(err, claims.ErrInvalidClaimID),
		errors.Is(err, claims.ErrInvalidStatus),
		errors.Is(err, claims.ErrInvalidArgument):
		return resilience.Permanent(err)
	default:
		return err
	}
}
