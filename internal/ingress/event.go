package ingress

import "time"

// EventType is the normalized call event kind handed to the orchestrator.
type EventType string

const (
	EventCallConnected     EventType = "call_connected"
	EventCallDisconnected  EventType = "call_disconnected"
	EventAudioConnected    EventType = "audio_connected"
	EventAudioChunk        EventType = "audio_chunk"
	EventTransferCompleted EventType = "transfer_completed"
	EventRecognitionError  EventType = "recognition_error"
)

// CallEvent is a normalized, deduplicated provider notification. Seq is
// assigned per call and increases monotonically in arrival order.
type CallEvent struct {
	Type            EventType
	CallID          string
	CallerNumber    string
	ServiceNumber   string
	Seq             uint64
	ProviderEventID string
	// Target carries the destination for transfer events.
	Target string
	// Reason carries the failure detail for recognition errors.
	Reason string
	At     time.Time
}

// RawNotification is a provider notification before normalization: parsed
// webhook fields or an internally generated media/speech signal. Kind uses
// the normalized event names; provider-specific statuses are mapped by the
// parser that builds the notification.
type RawNotification struct {
	EventID       string
	CallID        string
	Kind          string
	CallerNumber  string
	ServiceNumber string
	Target        string
	Reason        string
	At            time.Time
}
