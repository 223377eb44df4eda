package callstate

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence contract for CallState.
//
// Update is the only mutation primitive: it applies fn to a copy of the
// stored record and persists atomically only if the stored version still
// equals expectedVersion. Everything above this package composes Update
// rather than writing state directly, so concurrent ingress events and
// model completions cannot lose each other's writes.

var (
	ErrNotFound        = errors.New("callstate: not found")
	ErrVersionConflict = errors.New("callstate: version conflict")
	ErrArchived        = errors.New("callstate: call archived")
)

// Mutator transforms a loaded copy of the state. It must not retain the
// pointer past its return.
type Mutator func(s *CallState) error

type Store interface {
	// Create persists a brand-new record at version 1.
	Create(ctx context.Context, s *CallState) (*CallState, error)

	// Load returns the current record or ErrNotFound.
	Load(ctx context.Context, callID string) (*CallState, error)

	// Update applies fn and persists if the stored version equals
	// expectedVersion, returning the new record. On mismatch it returns
	// ErrVersionConflict and persists nothing.
	Update(ctx context.Context, callID string, expectedVersion int64, fn Mutator) (*CallState, error)

	// ListActive returns unarchived records, newest first.
	ListActive(ctx context.Context) ([]*CallState, error)
}

// Append is a convenience wrapper over Load+Update that only appends one
// message, retrying version conflicts.
func Append(ctx context.Context, st Store, callID string, m Message) (*CallState, error) {
	return UpdateWithRetry(ctx, st, callID, func(s *CallState) error {
		s.AppendMessage(m)
		return nil
	})
}

// Archive marks the call as terminated and archived. Records are never
// deleted.
func Archive(ctx context.Context, st Store, callID string, at time.Time) (*CallState, error) {
	return UpdateWithRetry(ctx, st, callID, func(s *CallState) error {
		s.Phase = PhaseTerminated
		t := at
		s.ArchivedAt = &t
		return nil
	})
}

// conflictRetries bounds reload-and-reapply attempts. Conflicts only occur
// when another writer won the race, so a handful of retries always makes
// progress.
const conflictRetries = 5

// UpdateWithRetry reloads and reapplies fn on ErrVersionConflict.
// The conflict is never surfaced to callers unless the bound is exhausted.
func UpdateWithRetry(ctx context.Context, st Store, callID string, fn Mutator) (*CallState, error) {
	var lastErr error
	for i := 0; i < conflictRetries; i++ {
		cur, err := st.Load(ctx, callID)
		if err != nil {
			return nil, err
		}
		out, err := st.Update(ctx, callID, cur.Version, fn)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
