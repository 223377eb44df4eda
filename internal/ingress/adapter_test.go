package ingress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testAdapter() *Adapter {
	a := NewAdapter(NewMemoryDeduper(8), nil)
	a.SetClock(func() time.Time { return time.Unix(1700000000, 0).UTC() })
	return a
}

func note(callID, eventID, kind string) RawNotification {
	return RawNotification{EventID: eventID, CallID: callID, Kind: kind, CallerNumber: "+15551234567"}
}

func TestNormalize_AssignsMonotonicSeqPerCall(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ev, err := a.Normalize(ctx, note("CA1", fmt.Sprintf("ev-%d", i), string(EventAudioChunk)))
		if err != nil {
			t.Fatalf("normalize %d: %v", i, err)
		}
		if ev.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, ev.Seq)
		}
	}

	// A different call gets its own sequence.
	ev, err := a.Normalize(ctx, note("CA2", "ev-1", string(EventCallConnected)))
	if err != nil {
		t.Fatalf("normalize other call: %v", err)
	}
	if ev.Seq != 1 {
		t.Fatalf("expected independent sequence, got %d", ev.Seq)
	}
}

// A re-delivered stream-open notification must be dropped, not re-sequenced.
func TestNormalize_DuplicateAudioConnectedDropped(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	first, err := a.Normalize(ctx, note("CA1", "audio-open-1", string(EventAudioConnected)))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Type != EventAudioConnected || first.Seq != 1 {
		t.Fatalf("unexpected event: %+v", first)
	}

	_, err = a.Normalize(ctx, note("CA1", "audio-open-1", string(EventAudioConnected)))
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	// The duplicate must not have consumed a sequence number.
	next, err := a.Normalize(ctx, note("CA1", "chunk-1", string(EventAudioChunk)))
	if err != nil {
		t.Fatalf("next event: %v", err)
	}
	if next.Seq != 2 {
		t.Fatalf("duplicate consumed a sequence number: got %d", next.Seq)
	}
}

func TestNormalize_MalformedRejected(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	cases := []RawNotification{
		{EventID: "ev-1", Kind: string(EventCallConnected)},           // no call id
		{CallID: "CA1", Kind: string(EventCallConnected)},             // no event id
		{EventID: "ev-1", CallID: "CA1", Kind: "ringing"},             // unmapped status
		{EventID: "ev-2", CallID: "CA1", Kind: "something-brand-new"}, // unknown kind
	}
	for i, raw := range cases {
		if _, err := a.Normalize(ctx, raw); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("case %d: expected ErrMalformedEvent, got %v", i, err)
		}
	}
}

// The dedup window is bounded: ids older than the window may be seen again.
func TestMemoryDeduper_WindowEvictsOldest(t *testing.T) {
	d := NewMemoryDeduper(2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		fresh, err := d.MarkSeen(ctx, "CA1", id)
		if err != nil || !fresh {
			t.Fatalf("mark %s: fresh=%v err=%v", id, fresh, err)
		}
	}

	// "a" was evicted by "c"; "b" and "c" are still in the window.
	if fresh, _ := d.MarkSeen(ctx, "CA1", "a"); !fresh {
		t.Fatal("evicted id should be accepted again")
	}
	if fresh, _ := d.MarkSeen(ctx, "CA1", "c"); fresh {
		t.Fatal("in-window id must stay deduplicated")
	}
}

func TestMemoryDeduper_CallsIsolated(t *testing.T) {
	d := NewMemoryDeduper(8)
	ctx := context.Background()

	if fresh, _ := d.MarkSeen(ctx, "CA1", "ev-1"); !fresh {
		t.Fatal("first delivery should be fresh")
	}
	if fresh, _ := d.MarkSeen(ctx, "CA2", "ev-1"); !fresh {
		t.Fatal("same id on another call should be fresh")
	}
}

func TestForget_ReleasesCallTracking(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	if _, err := a.Normalize(ctx, note("CA1", "ev-1", string(EventCallConnected))); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	a.Forget(ctx, "CA1")

	// After forgetting, sequencing restarts and the old id is acceptable.
	ev, err := a.Normalize(ctx, note("CA1", "ev-1", string(EventCallConnected)))
	if err != nil {
		t.Fatalf("normalize after forget: %v", err)
	}
	if ev.Seq != 1 {
		t.Fatalf("expected sequence restart, got %d", ev.Seq)
	}
}

func TestTwilioStatusMapping(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cases := []struct {
		status string
		dial   string
		want   string
	}{
		{status: "in-progress", want: string(EventCallConnected)},
		{status: "completed", want: string(EventCallDisconnected)},
		{status: "busy", want: string(EventCallDisconnected)},
		{status: "no-answer", want: string(EventCallDisconnected)},
		{status: "completed", dial: "completed", want: string(EventTransferCompleted)},
		{status: "ringing", want: "ringing"}, // left raw, adapter drops it
	}
	for i, tc := range cases {
		form := TwilioStatusForm{CallSid: "CA1", CallStatus: tc.status, DialCallStatus: tc.dial, SequenceNumber: "7"}
		raw := form.ToNotification(now)
		if raw.Kind != tc.want {
			t.Fatalf("case %d: expected kind %q, got %q", i, tc.want, raw.Kind)
		}
		if raw.EventID != "CA1:7:"+tc.status {
			t.Fatalf("case %d: unexpected event id %q", i, raw.EventID)
		}
	}
}
