package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"claimline/internal/audit"
	"claimline/internal/resilience"
	"claimline/internal/telephony"
)

// CallRef binds telephony tools to the live call they act on. A registry is
// built per call, so tool arguments never carry call identifiers the model
// could get wrong.
type CallRef struct {
	ProviderCallID string
	CallerNumber   string
	// ServiceNumber is the number SMS is sent from.
	ServiceNumber string
}

// SendSMSTool texts the caller on their own number.
type SendSMSTool struct {
	Provider telephony.Provider
	Audit    *audit.Service
	Call     CallRef
}

func (t *SendSMSTool) Name() string { return "send_sms" }

func (t *SendSMSTool) Description() string {
	return "Send a short SMS to the caller's phone, e.g. a claim summary or a link."
}

func (t *SendSMSTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"body": {"type": "string", "description": "Message text, at most a few sentences"}
		},
		"required": ["body"]
	}`)
}

func (t *SendSMSTool) Execute(ctx context.Context, args json.RawMessage) (Outcome, error) {
	var in struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Outcome{}, resilience.Permanent(err)
	}
	res, err := t.Provider.SendSMS(ctx, telephony.SMSRequest{
		From: t.Call.ServiceNumber,
		To:   t.Call.CallerNumber,
		Body: in.Body,
	})
	if err != nil {
		return Outcome{}, err
	}
	if t.Audit != nil {
		// Best effort: an audit failure must never fail a sent SMS.
		if aerr := t.Audit.LogSMS(ctx, t.Call.ProviderCallID, t.Call.CallerNumber, res.ProviderMessageID); aerr != nil {
			slog.Warn("audit sms failed", "call_id", t.Call.ProviderCallID, "error", aerr)
		}
	}
	return Outcome{Content: fmt.Sprintf(`{"sent": true, "message_id": %q}`, res.ProviderMessageID)}, nil
}

// TransferCallTool hands the caller to a human agent.
type TransferCallTool struct {
	Provider telephony.Provider
	Call     CallRef

	// AllowedTargets restricts where the model may transfer to; empty means
	// any target is accepted.
	AllowedTargets []string
}

func (t *TransferCallTool) Name() string { return "transfer_call" }

func (t *TransferCallTool) Description() string {
	return "Transfer this call to a human agent. Use when the caller asks for a person or the request is beyond the available tools."
}

func (t *TransferCallTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"target": {"type": "string", "description": "Destination number or sip: URI"}
		},
		"required": ["target"]
	}`)
}

func (t *TransferCallTool) Execute(ctx context.Context, args json.RawMessage) (Outcome, error) {
	var in struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Outcome{}, resilience.Permanent(err)
	}
	if len(t.AllowedTargets) > 0 && !contains(t.AllowedTargets, in.Target) {
		return Outcome{}, resilience.Permanent(fmt.Errorf("tools: transfer target %q not allowed", in.Target))
	}

	// The provider action happens when the orchestrator honors the
	// directive, after the turn's state is persisted.
	return Outcome{
		Content:   `{"transfer": "scheduled"}`,
		Directive: Directive{Kind: DirectiveTransfer, Target: in.Target},
	}, nil
}

// EndCallTool lets the model close the conversation cleanly.
type EndCallTool struct{}

func (t *EndCallTool) Name() string { return "end_call" }

func (t *EndCallTool) Description() string {
	return "End the call after the caller's request is resolved and goodbyes are exchanged."
}

func (t *EndCallTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *EndCallTool) Execute(ctx context.Context, args json.RawMessage) (Outcome, error) {
	return Outcome{
		Content:   `{"ending": true}`,
		Directive: Directive{Kind: DirectiveHangup},
	}, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// classifyTelephonyErr is the retry classifier shared by telephony tools:
// a gone call is fatal, everything else at this boundary is transient.
func classifyTelephonyErr(err error) bool {
	return !errors.Is(err, telephony.ErrCallGone)
}
