package ingress

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TwilioStatusForm captures the subset of voice status-callback fields the
// adapter needs. Twilio sends application/x-www-form-urlencoded by default.
type TwilioStatusForm struct {
	CallSid        string
	AccountSid     string
	From           string
	To             string
	CallStatus     string
	SequenceNumber string
	DialCallStatus string
	Timestamp      string
}

func ParseTwilioStatus(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:        r.PostFormValue("CallSid"),
		AccountSid:     r.PostFormValue("AccountSid"),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		CallStatus:     r.PostFormValue("CallStatus"),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		DialCallStatus: r.PostFormValue("DialCallStatus"),
		Timestamp:      r.PostFormValue("Timestamp"),
	}, nil
}

// ToNotification maps the provider's call status onto the normalized event
// kinds. Statuses outside the mapping keep their raw name and are rejected
// as unknown by the adapter.
func (f TwilioStatusForm) ToNotification(now time.Time) RawNotification {
	kind := f.CallStatus
	switch f.CallStatus {
	case "in-progress", "answered":
		kind = string(EventCallConnected)
	case "completed", "busy", "failed", "no-answer", "canceled":
		kind = string(EventCallDisconnected)
	}
	// A dial outcome on the callback means a transfer leg finished.
	if f.DialCallStatus != "" {
		kind = string(EventTransferCompleted)
	}

	eventID := f.CallSid + ":" + f.CallStatus
	if f.SequenceNumber != "" {
		eventID = fmt.Sprintf("%s:%s:%s", f.CallSid, f.SequenceNumber, f.CallStatus)
	}

	return RawNotification{
		EventID:       eventID,
		CallID:        f.CallSid,
		Kind:          kind,
		CallerNumber:  f.From,
		ServiceNumber: f.To,
		At:            now,
	}
}
