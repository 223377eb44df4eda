package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrDuplicateEvent marks a notification whose provider event id was
	// already seen for its call. Duplicates are acknowledged upstream and
	// never forwarded.
	ErrDuplicateEvent = errors.New("ingress: duplicate event")
	// ErrMalformedEvent marks a notification missing required fields or
	// carrying an unknown kind. Malformed events are logged and dropped.
	ErrMalformedEvent = errors.New("ingress: malformed event")
)

var knownKinds = map[string]EventType{
	string(EventCallConnected):     EventCallConnected,
	string(EventCallDisconnected):  EventCallDisconnected,
	string(EventAudioConnected):    EventAudioConnected,
	string(EventAudioChunk):        EventAudioChunk,
	string(EventTransferCompleted): EventTransferCompleted,
	string(EventRecognitionError):  EventRecognitionError,
}

// Deduper remembers recently seen provider event ids per call. MarkSeen
// returns false when the id was already recorded.
type Deduper interface {
	MarkSeen(ctx context.Context, callID, eventID string) (bool, error)
	Forget(ctx context.Context, callID string) error
}

// Adapter normalizes raw provider notifications into CallEvents: it
// validates shape, drops duplicates within the dedup window, and assigns a
// per-call monotonically increasing sequence number.
type Adapter struct {
	dedup Deduper
	log   *slog.Logger
	clock func() time.Time

	mu   sync.Mutex
	seqs map[string]uint64
}

func NewAdapter(dedup Deduper, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		dedup: dedup,
		log:   log.With("component", "ingress"),
		clock: func() time.Time { return time.Now().UTC() },
		seqs:  make(map[string]uint64),
	}
}

// SetClock overrides time for tests.
func (a *Adapter) SetClock(fn func() time.Time) { a.clock = fn }

// Normalize validates and deduplicates one notification. The returned event
// carries the next sequence number for its call. Duplicate and malformed
// notifications are reported via sentinel errors and must not be forwarded.
func (a *Adapter) Normalize(ctx context.Context, raw RawNotification) (CallEvent, error) {
	if raw.CallID == "" || raw.EventID == "" {
		a.log.Warn("dropping malformed notification", "call_id", raw.CallID, "kind", raw.Kind)
		return CallEvent{}, fmt.Errorf("%w: missing call or event id", ErrMalformedEvent)
	}
	typ, ok := knownKinds[raw.Kind]
	if !ok {
		a.log.Warn("dropping notification with unknown kind", "call_id", raw.CallID, "kind", raw.Kind)
		return CallEvent{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, raw.Kind)
	}

	fresh, err := a.dedup.MarkSeen(ctx, raw.CallID, raw.EventID)
	if err != nil {
		return CallEvent{}, fmt.Errorf("ingress: dedup check: %w", err)
	}
	if !fresh {
		a.log.Debug("dropping duplicate notification", "call_id", raw.CallID, "event_id", raw.EventID)
		return CallEvent{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, raw.EventID)
	}

	a.mu.Lock()
	a.seqs[raw.CallID]++
	seq := a.seqs[raw.CallID]
	a.mu.Unlock()

	at := raw.At
	if at.IsZero() {
		at = a.clock()
	}

	return CallEvent{
		Type:            typ,
		CallID:          raw.CallID,
		CallerNumber:    raw.CallerNumber,
		ServiceNumber:   raw.ServiceNumber,
		Seq:             seq,
		ProviderEventID: raw.EventID,
		Target:          raw.Target,
		Reason:          raw.Reason,
		At:              at,
	}, nil
}

// Forget releases per-call tracking once a call terminates.
func (a *Adapter) Forget(ctx context.Context, callID string) {
	a.mu.Lock()
	delete(a.seqs, callID)
	a.mu.Unlock()
	if err := a.dedup.Forget(ctx, callID); err != nil {
		a.log.Warn("dedup forget failed", "call_id", callID, "error", err)
	}
}

// MemoryDeduper keeps a bounded sliding window of event ids per call.
// Single-instance deployments and tests; multi-instance uses RedisDeduper.
type MemoryDeduper struct {
	window int

	mu    sync.Mutex
	calls map[string]*idWindow
}

type idWindow struct {
	seen  map[string]struct{}
	order []string
}

func NewMemoryDeduper(window int) *MemoryDeduper {
	if window <= 0 {
		window = 128
	}
	return &MemoryDeduper{window: window, calls: make(map[string]*idWindow)}
}

func (d *MemoryDeduper) MarkSeen(ctx context.Context, callID, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.calls[callID]
	if !ok {
		w = &idWindow{seen: make(map[string]struct{})}
		d.calls[callID] = w
	}
	if _, dup := w.seen[eventID]; dup {
		return false, nil
	}
	if len(w.order) >= d.window {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.seen[eventID] = struct{}{}
	w.order = append(w.order, eventID)
	return true, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, callID string) error {
	d.mu.Lock()
	delete(d.calls, callID)
	d.mu.Unlock()
	return nil
}
