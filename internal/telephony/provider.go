package telephony

import (
	"context"
	"errors"
)

// Provider defines the provider-agnostic call actions used by the
// orchestration core.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Each action is a single idempotent-or-retried remote call; retry policy
//   is owned by the caller (the tool layer), not the adapter.
// - Keep request/response types provider-agnostic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Transfer redirects the live call to another party.
	Transfer(ctx context.Context, req TransferRequest) error

	// Hangup terminates the live call at the provider.
	Hangup(ctx context.Context, req HangupRequest) error

	// SendSMS delivers a text message to the caller.
	SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error)
}

// ErrCallGone indicates the provider no longer knows the call; treated as
// fatal by retry policies since the call cannot come back.
var ErrCallGone = errors.New("telephony: call no longer active")

type TransferRequest struct {
	// ProviderCallID identifies the call at the provider.
	ProviderCallID string `json:"provider_call_id"`

	// Target is E.164 or a sip: URI.
	Target string `json:"target"`
}

type HangupRequest struct {
	ProviderCallID string `json:"provider_call_id"`
}

type SMSRequest struct {
	// From and To are E.164.
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type SMSResult struct {
	ProviderMessageID string `json:"provider_message_id"`
}
