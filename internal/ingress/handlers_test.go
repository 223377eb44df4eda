package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// signForm computes the provider-side signature for a form POST.
func signForm(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := fullURL
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/voice/inbound", h.HandleInboundCall)
	r.POST("/webhooks/voice/event", h.HandleStatusEvent)
	return r
}

func postForm(r *gin.Engine, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func collectingSink(events *[]CallEvent) Sink {
	return func(ctx context.Context, ev CallEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestHandleInboundCall_AnswersWithMediaStream(t *testing.T) {
	var events []CallEvent
	h := WebhookHandler{
		Adapter:   testAdapter(),
		Sink:      collectingSink(&events),
		StreamURL: "wss://voice.example.com/media",
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	}
	r := newTestRouter(h)

	w := postForm(r, "/webhooks/voice/inbound", url.Values{
		"CallSid":    {"CA100"},
		"From":       {"+15551234567"},
		"To":         {"+15550001111"},
		"CallStatus": {"ringing"},
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Connect>") || !strings.Contains(body, `url="wss://voice.example.com/media"`) {
		t.Fatalf("expected connect/stream TwiML, got %s", body)
	}
	if len(events) != 1 || events[0].Type != EventCallConnected || events[0].CallID != "CA100" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// A re-delivered inbound webhook must answer identically without forwarding
// a second connect event.
func TestHandleInboundCall_RedeliveryAnswersAgain(t *testing.T) {
	var events []CallEvent
	h := WebhookHandler{
		Adapter:   testAdapter(),
		Sink:      collectingSink(&events),
		StreamURL: "wss://voice.example.com/media",
	}
	r := newTestRouter(h)

	form := url.Values{"CallSid": {"CA100"}, "From": {"+15551234567"}, "To": {"+15550001111"}}
	first := postForm(r, "/webhooks/voice/inbound", form, nil)
	second := postForm(r, "/webhooks/voice/inbound", form, nil)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses %d, %d", first.Code, second.Code)
	}
	if !strings.Contains(second.Body.String(), "<Connect>") {
		t.Fatalf("redelivery should still answer: %s", second.Body.String())
	}
	if len(events) != 1 {
		t.Fatalf("expected one forwarded event, got %d", len(events))
	}
}

func TestHandleStatusEvent_DuplicateAcknowledged(t *testing.T) {
	var events []CallEvent
	h := WebhookHandler{Adapter: testAdapter(), Sink: collectingSink(&events)}
	r := newTestRouter(h)

	form := url.Values{
		"CallSid":        {"CA100"},
		"CallStatus":     {"completed"},
		"SequenceNumber": {"4"},
	}
	first := postForm(r, "/webhooks/voice/event", form, nil)
	second := postForm(r, "/webhooks/voice/event", form, nil)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses %d, %d", first.Code, second.Code)
	}
	if !strings.Contains(second.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate ack, got %s", second.Body.String())
	}
	if len(events) != 1 {
		t.Fatalf("expected one forwarded event, got %d", len(events))
	}
}

func TestHandleStatusEvent_UnknownStatusIgnored(t *testing.T) {
	var events []CallEvent
	h := WebhookHandler{Adapter: testAdapter(), Sink: collectingSink(&events)}
	r := newTestRouter(h)

	w := postForm(r, "/webhooks/voice/event", url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"ringing"},
	}, nil)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ignored") {
		t.Fatalf("expected ignored ack, got %d %s", w.Code, w.Body.String())
	}
	if len(events) != 0 {
		t.Fatalf("unknown status must not be forwarded: %+v", events)
	}
}

func TestHandleStatusEvent_BadSignatureRejected(t *testing.T) {
	var events []CallEvent
	h := WebhookHandler{
		Adapter:       testAdapter(),
		Sink:          collectingSink(&events),
		AuthToken:     "secret-token",
		PublicBaseURL: "https://voice.example.com",
	}
	r := newTestRouter(h)

	w := postForm(r, "/webhooks/voice/event", url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"completed"},
	}, map[string]string{"X-Twilio-Signature": "bogus"})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(events) != 0 {
		t.Fatal("unsigned event must not be forwarded")
	}
}

func TestHandleStatusEvent_ValidSignatureAccepted(t *testing.T) {
	var events []CallEvent
	h := WebhookHandler{
		Adapter:       testAdapter(),
		Sink:          collectingSink(&events),
		AuthToken:     "secret-token",
		PublicBaseURL: "https://voice.example.com",
	}
	r := newTestRouter(h)

	form := url.Values{"CallSid": {"CA100"}, "CallStatus": {"completed"}}
	sig := signForm("secret-token", "https://voice.example.com/webhooks/voice/event", form)
	w := postForm(r, "/webhooks/voice/event", form, map[string]string{"X-Twilio-Signature": sig})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(events) != 1 {
		t.Fatalf("expected forwarded event, got %d", len(events))
	}
}

func TestValidTwilioSignature(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	fullURL := "https://voice.example.com/webhooks/voice/event"

	good := signForm("tok", fullURL, form)
	if !ValidTwilioSignature("tok", fullURL, form, good) {
		t.Fatal("valid signature rejected")
	}
	if ValidTwilioSignature("tok", fullURL, form, "tampered") {
		t.Fatal("invalid signature accepted")
	}
	if ValidTwilioSignature("other-token", fullURL, form, good) {
		t.Fatal("wrong token accepted")
	}
	if ValidTwilioSignature("tok", "", form, "") {
		t.Fatal("empty signature accepted")
	}
}
