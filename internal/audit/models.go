package audit

import "time"

// Event is an immutable, append-only audit log record for call side effects.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required; every side effect belongs to exactly one call.
// - actor capture is best-effort; do not block critical flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Actor is who caused the side effect: "agent" for tool-driven actions,
	// an operator user id for forced ones, "system" for lifecycle records.
	Actor string `json:"actor,omitempty" db:"actor"`
	// ActorRole is set for operator-initiated events.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// Target is event-dependent: the SMS destination, the transfer target.
	Target string `json:"target,omitempty" db:"target"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSMSSent         EventType = "sms_sent"
	EventTypeTransferStarted EventType = "transfer_started"
	EventTypeHangup          EventType = "call_hangup"
	EventTypeForcedHangup    EventType = "forced_hangup"
	EventTypeCallArchived    EventType = "call_archived"
)
