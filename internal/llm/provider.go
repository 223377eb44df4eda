package llm

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the model service could not serve the request.
// Callers escalate tier once, then degrade to a scripted apology.
var ErrUnavailable = errors.New("llm: model unavailable")

// Provider completes chat requests against a named tier.
//
// Implementations own protocol details (request formatting, auth, parsing);
// callers see only messages, tool specs, and responses.
type Provider interface {
	Complete(ctx context.Context, tier Tier, messages []Message, tools []ToolSpec) (*Response, error)
}
