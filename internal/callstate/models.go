package callstate

import (
	"encoding/json"
	"time"
)

// CallState is the durable record for one phone call.
//
// Invariants:
// - Version strictly increases on every persisted mutation.
// - Messages is append-only; entries are never mutated after append.
// - Records are archived on termination, never deleted.
//
// CallerNumber is the partition key for durable storage.

type CallState struct {
	CallID       string `json:"call_id" db:"call_id"`
	CallerNumber string `json:"caller_number" db:"caller_number"`

	Phase Phase `json:"phase" db:"phase"`

	Messages []Message `json:"messages"`

	// Claim holds schema-validated structured fields, partially filled
	// over the course of the conversation.
	Claim map[string]string `json:"claim,omitempty"`

	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`

	// RecognitionFailures counts consecutive recognition errors in the
	// current turn; reset on every final transcript.
	RecognitionFailures int `json:"recognition_failures"`

	Version int64 `json:"version" db:"version"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty" db:"archived_at"`
}

// Phase is the orchestrator state-machine phase persisted with the call.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseListening    Phase = "listening"
	PhaseThinking     Phase = "thinking"
	PhaseSpeaking     Phase = "speaking"
	PhaseTransferring Phase = "transferring"
	PhaseEnding       Phase = "ending"
	PhaseErroring     Phase = "erroring"
	PhaseTerminated   Phase = "terminated"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool { return p == PhaseTerminated }

// Role identifies the author of a conversation message.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// Message is one turn of conversation. Append-only; never mutated.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries tool requests emitted by the model on agent messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID correlates a tool-result message to its request.
	ToolCallID string `json:"tool_call_id,omitempty"`

	At time.Time `json:"at"`
}

// ToolCall is a tool request emitted by the language model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// New returns a fresh CallState in the Connecting phase.
func New(callID, callerNumber string, now time.Time) *CallState {
	return &CallState{
		CallID:       callID,
		CallerNumber: callerNumber,
		Phase:        PhaseConnecting,
		Claim:        map[string]string{},
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy so mutators never alias stored state.
func (s *CallState) Clone() *CallState {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Claim = make(map[string]string, len(s.Claim))
	for k, v := range s.Claim {
		out.Claim[k] = v
	}
	if s.ArchivedAt != nil {
		t := *s.ArchivedAt
		out.ArchivedAt = &t
	}
	return &out
}

// AppendMessage adds a message to the log. It is the only supported way to
// grow Messages.
func (s *CallState) AppendMessage(m Message) {
	s.Messages = append(s.Messages, m)
}
