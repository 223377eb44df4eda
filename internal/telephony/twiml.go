package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// Answer describes what should happen at the provider boundary when a call
// arrives.
type Answer struct {
	Action AnswerAction

	// StreamURL is the media WebSocket endpoint, required for connect.
	StreamURL string

	// TransferTo is used when Action == AnswerTransfer.
	TransferTo string
}

type AnswerAction string

const (
	// AnswerConnect bridges the call's audio onto the media stream so the
	// orchestrator can converse.
	AnswerConnect AnswerAction = "connect"
	AnswerReject  AnswerAction = "reject"
	AnswerHangup  AnswerAction = "hangup"
	// AnswerTransfer dials a human directly without engaging the agent.
	AnswerTransfer AnswerAction = "transfer"
)

// RenderTwiML maps an Answer to TwiML.
func RenderTwiML(a Answer) (string, error) {
	var r twimlResponse

	switch a.Action {
	case AnswerReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case AnswerHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case AnswerConnect:
		if strings.TrimSpace(a.StreamURL) == "" {
			return "", errors.New("telephony: stream url required for connect answer")
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{URL: a.StreamURL}})
	case AnswerTransfer:
		if strings.TrimSpace(a.TransferTo) == "" {
			return "", errors.New("telephony: transfer target required")
		}
		d := twimlDial{}
		// Prefer SIP if it looks like sip:... otherwise treat as a PSTN number.
		if strings.HasPrefix(strings.ToLower(a.TransferTo), "sip:") {
			d.Sip = &twimlSip{URI: a.TransferTo}
		} else {
			d.Number = a.TransferTo
		}
		r.Verbs = append(r.Verbs, d)
	default:
		return "", errors.New("telephony: unknown answer action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
