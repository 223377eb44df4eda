package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testProvider(t *testing.T, handler http.HandlerFunc) *TwilioProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTwilioProvider(TwilioConfig{
		AccountSID: "ACtest",
		AuthToken:  "secret",
		BaseURL:    srv.URL,
	})
}

func TestTwilio_HangupPostsCompletedStatus(t *testing.T) {
	var gotPath, gotStatus string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotStatus = r.PostFormValue("Status")
		w.WriteHeader(http.StatusOK)
	})

	if err := p.Hangup(context.Background(), HangupRequest{ProviderCallID: "CA123"}); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/ACtest/Calls/CA123.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotStatus != "completed" {
		t.Fatalf("expected Status=completed, got %q", gotStatus)
	}
}

func TestTwilio_TransferPostsDialTwiML(t *testing.T) {
	var gotTwiml string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotTwiml = r.PostFormValue("Twiml")
		w.WriteHeader(http.StatusOK)
	})

	err := p.Transfer(context.Background(), TransferRequest{ProviderCallID: "CA123", Target: "+15550001111"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !strings.Contains(gotTwiml, "<Number>+15550001111</Number>") {
		t.Fatalf("expected dial twiml, got %q", gotTwiml)
	}
}

func TestTwilio_GoneCallIsTypedError(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": 20404}`, http.StatusNotFound)
	})

	err := p.Hangup(context.Background(), HangupRequest{ProviderCallID: "CAdead"})
	if !errors.Is(err, ErrCallGone) {
		t.Fatalf("expected ErrCallGone, got %v", err)
	}
}

func TestTwilio_SendSMSParsesSid(t *testing.T) {
	var gotAuthUser string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuthUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM999", "status": "queued"}`))
	})

	res, err := p.SendSMS(context.Background(), SMSRequest{From: "+1555", To: "+1666", Body: "your claim was updated"})
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if res.ProviderMessageID != "SM999" {
		t.Fatalf("expected SM999, got %q", res.ProviderMessageID)
	}
	if gotAuthUser != "ACtest" {
		t.Fatalf("expected basic auth with account sid")
	}
}

func TestTwilio_SMSFailureSurfacesStatus(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	})

	if _, err := p.SendSMS(context.Background(), SMSRequest{From: "+1", To: "+2", Body: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
