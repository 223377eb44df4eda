package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records the side-effect trail of calls.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to callers.
// - Callers should treat audit logging as best-effort; an audit failure
//   must never abort the side effect it describes.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// SetClock overrides time for tests.
func (s *Service) SetClock(fn func() time.Time) { s.clock = fn }

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogSMS records an outbound SMS sent during a call.
func (s *Service) LogSMS(ctx context.Context, callID, to, providerMessageID string) error {
	return s.Append(ctx, Event{
		CallID:   callID,
		Type:     EventTypeSMSSent,
		Actor:    "agent",
		Target:   to,
		Message:  "sms sent",
		Metadata: `{"provider_message_id":"` + providerMessageID + `"}`,
	})
}

// LogTransfer records a transfer handed to the provider.
func (s *Service) LogTransfer(ctx context.Context, callID, target string) error {
	return s.Append(ctx, Event{
		CallID:  callID,
		Type:    EventTypeTransferStarted,
		Actor:   "agent",
		Target:  target,
		Message: "transfer started",
	})
}

// LogHangup records a hangup, agent- or system-initiated.
func (s *Service) LogHangup(ctx context.Context, callID, reason string) error {
	return s.Append(ctx, Event{
		CallID:  callID,
		Type:    EventTypeHangup,
		Actor:   "agent",
		Message: reason,
	})
}

// LogForcedHangup records an operator tearing a live call down.
func (s *Service) LogForcedHangup(ctx context.Context, callID, operatorID, role string) error {
	return s.Append(ctx, Event{
		CallID:    callID,
		Type:      EventTypeForcedHangup,
		Actor:     operatorID,
		ActorRole: role,
		Message:   "forced hangup",
	})
}

// LogArchived records the call's state being archived on termination.
func (s *Service) LogArchived(ctx context.Context, callID string) error {
	return s.Append(ctx, Event{
		CallID:  callID,
		Type:    EventTypeCallArchived,
		Actor:   "system",
		Message: "call archived",
	})
}

// Trail returns a call's audit events in append order.
func (s *Service) Trail(ctx context.Context, callID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.ListByCall(ctx, callID)
}
