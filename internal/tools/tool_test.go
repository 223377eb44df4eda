package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"claimline/internal/audit"
	"claimline/internal/claims"
	"claimline/internal/resilience"
	"claimline/internal/telephony"
)

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func seededClaims() *claims.Service {
	repo := claims.NewMemoryRepo()
	repo.Seed(claims.Claim{ClaimID: "CLM-004211", Status: "under_review", Fields: map[string]string{"vehicle": "sedan"}})
	return claims.NewService(repo)
}

// fakeTelephony counts calls and can fail the first n attempts.
type fakeTelephony struct {
	failFirst int
	smsCalls  int
	transfers []telephony.TransferRequest
	hangups   []telephony.HangupRequest
	smsErr    error
}

func (f *fakeTelephony) Name() string                             { return "fake" }
func (f *fakeTelephony) HealthCheck(ctx context.Context) error    { return nil }
func (f *fakeTelephony) Transfer(ctx context.Context, req telephony.TransferRequest) error {
	f.transfers = append(f.transfers, req)
	return nil
}
func (f *fakeTelephony) Hangup(ctx context.Context, req telephony.HangupRequest) error {
	f.hangups = append(f.hangups, req)
	return nil
}
func (f *fakeTelephony) SendSMS(ctx context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	f.smsCalls++
	if f.smsErr != nil {
		return telephony.SMSResult{}, f.smsErr
	}
	if f.smsCalls <= f.failFirst {
		return telephony.SMSResult{}, errors.New("gateway timeout")
	}
	return telephony.SMSResult{ProviderMessageID: "SM1"}, nil
}

func testRegistry(tel telephony.Provider) *Registry {
	return NewCallRegistry(Deps{
		Claims:    seededClaims(),
		Telephony: tel,
		Policy:    fastPolicy(),
	}, CallRef{ProviderCallID: "CA1", CallerNumber: "+15551234567", ServiceNumber: "+15550001111"})
}

func TestInvoke_MissingRequiredArgIsSchemaError(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	_, err := r.Invoke(context.Background(), "tc-1", "get_claim", json.RawMessage(`{"claim_id": null}`))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if se.Tool != "get_claim" {
		t.Fatalf("unexpected tool: %q", se.Tool)
	}
}

func TestInvoke_WrongArgTypeIsSchemaError(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	_, err := r.Invoke(context.Background(), "tc-1", "get_claim", json.RawMessage(`{"claim_id": 42}`))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestInvoke_UnknownToolIsSchemaError(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	_, err := r.Invoke(context.Background(), "tc-1", "launch_rocket", json.RawMessage(`{}`))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestInvoke_GetClaimReturnsClaimJSON(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	res, err := r.Invoke(context.Background(), "tc-1", "get_claim", json.RawMessage(`{"claim_id": "CLM-004211"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Failed {
		t.Fatalf("unexpected failure: %s", res.Content)
	}
	var c claims.Claim
	if err := json.Unmarshal([]byte(res.Content), &c); err != nil {
		t.Fatalf("content not claim JSON: %v", err)
	}
	if c.Status != "under_review" {
		t.Fatalf("unexpected claim: %+v", c)
	}
	if res.CallID != "tc-1" {
		t.Fatalf("correlation id lost")
	}
}

// A transient SMS failure that recovers within the retry bound must look like
// a clean success to the conversation.
func TestInvoke_SMSRetriesThenSucceeds(t *testing.T) {
	tel := &fakeTelephony{failFirst: 2}
	r := testRegistry(tel)

	res, err := r.Invoke(context.Background(), "tc-2", "send_sms", json.RawMessage(`{"body": "claim CLM-004211 is under review"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Failed {
		t.Fatalf("expected success after retries, got failed result: %s", res.Content)
	}
	if tel.smsCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", tel.smsCalls)
	}
}

// Every sent SMS leaves an audit record tying the message id to the call.
func TestInvoke_SMSLeavesAuditRecord(t *testing.T) {
	trail := audit.NewMemoryRepo()
	r := NewCallRegistry(Deps{
		Claims:    seededClaims(),
		Telephony: &fakeTelephony{},
		Audit:     audit.NewService(trail),
		Policy:    fastPolicy(),
	}, CallRef{ProviderCallID: "CA1", CallerNumber: "+15551234567", ServiceNumber: "+15550001111"})

	res, err := r.Invoke(context.Background(), "tc-8", "send_sms", json.RawMessage(`{"body": "your claim is under review"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Failed {
		t.Fatalf("unexpected failure: %s", res.Content)
	}

	events := trail.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != audit.EventTypeSMSSent || ev.CallID != "CA1" || ev.Target != "+15551234567" {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
	if !strings.Contains(ev.Metadata, "SM1") {
		t.Fatalf("expected provider message id in metadata, got %q", ev.Metadata)
	}
}

func TestInvoke_HandlerExhaustionYieldsFailedResult(t *testing.T) {
	tel := &fakeTelephony{failFirst: 99}
	r := testRegistry(tel)

	res, err := r.Invoke(context.Background(), "tc-3", "send_sms", json.RawMessage(`{"body": "x"}`))
	if err != nil {
		t.Fatalf("handler errors must not surface as invoke errors: %v", err)
	}
	if !res.Failed {
		t.Fatal("expected failed result after exhaustion")
	}
	if tel.smsCalls != 3 {
		t.Fatalf("expected bounded attempts, got %d", tel.smsCalls)
	}
}

func TestInvoke_GoneCallIsNotRetried(t *testing.T) {
	tel := &fakeTelephony{smsErr: telephony.ErrCallGone}
	r := testRegistry(tel)

	res, err := r.Invoke(context.Background(), "tc-4", "send_sms", json.RawMessage(`{"body": "x"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Failed {
		t.Fatal("expected failed result")
	}
	if tel.smsCalls != 1 {
		t.Fatalf("gone call must be fatal, got %d attempts", tel.smsCalls)
	}
}

func TestInvoke_TransferReturnsDirectiveWithoutCallingProvider(t *testing.T) {
	tel := &fakeTelephony{}
	r := testRegistry(tel)

	res, err := r.Invoke(context.Background(), "tc-5", "transfer_call", json.RawMessage(`{"target": "+15559990000"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Directive.Kind != DirectiveTransfer || res.Directive.Target != "+15559990000" {
		t.Fatalf("unexpected directive: %+v", res.Directive)
	}
	if len(tel.transfers) != 0 {
		t.Fatal("transfer must be deferred to the orchestrator")
	}
}

func TestInvoke_EndCallDirective(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	res, err := r.Invoke(context.Background(), "tc-6", "end_call", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Directive.Kind != DirectiveHangup {
		t.Fatalf("expected hangup directive, got %+v", res.Directive)
	}
}

func TestInvoke_UpdateClaimInvalidStatusFailsFast(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	res, err := r.Invoke(context.Background(), "tc-7", "update_claim",
		json.RawMessage(`{"claim_id": "CLM-004211", "status": "vaporized"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Failed {
		t.Fatal("expected failed result for invalid status")
	}
}

func TestSpecs_RegistrationOrderStable(t *testing.T) {
	r := testRegistry(&fakeTelephony{})

	specs := r.Specs()
	want := []string{"get_claim", "update_claim", "send_sms", "transfer_call", "end_call"}
	if len(specs) != len(want) {
		t.Fatalf("expected %d specs, got %d", len(want), len(specs))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Fatalf("spec %d: expected %s, got %s", i, name, specs[i].Name)
		}
	}
}
