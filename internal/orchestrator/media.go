package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"claimline/internal/audio"
	"claimline/internal/ingress"
)

// HandleMedia owns one media-stream connection for its lifetime: it waits
// for the transport's start message, binds the stream to the call it names,
// and pumps audio and playback marks until the stream stops. It blocks
// until the stream ends, so callers run it per connection.
func (o *Orchestrator) HandleMedia(ctx context.Context, conn audio.Conn) error {
	var bound atomic.Pointer[session]

	b := audio.NewBridge(conn, audio.Config{
		Log: o.log,
		OnInterrupt: func() {
			if s := bound.Load(); s != nil {
				s.interrupt()
			}
		},
	})
	b.Start()
	defer func() { _ = b.Close() }()

	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case audio.EventStarted:
				s := o.lookup(ev.ProviderCallID)
				if s == nil {
					o.log.Warn("media stream for unknown call", "call_id", ev.ProviderCallID)
					return ErrUnknownCall
				}
				s.attachBridge(b)
				bound.Store(s)
				// The stream id is the event id: a re-delivered start for
				// the same stream dedups instead of re-transitioning.
				if err := o.submitInternal(ctx, ingress.RawNotification{
					EventID:      "stream:" + ev.StreamSID,
					CallID:       s.callID,
					Kind:         string(ingress.EventAudioConnected),
					CallerNumber: s.caller,
				}); err != nil {
					o.log.Error("audio connect rejected", "call_id", s.callID, "error", err)
					return err
				}

			case audio.EventFrame:
				if s := bound.Load(); s != nil {
					s.feedAudio(ev.Frame.Payload)
				}

			case audio.EventMark:
				if s := bound.Load(); s != nil {
					if err := s.submit(signal{kind: sigPlaybackDone, mark: ev.Mark}); err != nil {
						o.log.Warn("playback mark dropped", "call_id", s.callID, "error", err)
					}
				}

			case audio.EventStopped:
				if s := bound.Load(); s != nil {
					s.cancelInflight()
					_ = s.submit(signal{kind: sigIngress, ev: ingress.CallEvent{
						Type:   ingress.EventCallDisconnected,
						CallID: s.callID,
					}})
				}
				return nil
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// submitInternal routes an internally generated notification through the
// ingress adapter so it shares the webhook path's dedup and sequencing.
func (o *Orchestrator) submitInternal(ctx context.Context, raw ingress.RawNotification) error {
	if o.deps.Ingress == nil {
		return o.Submit(ctx, ingress.CallEvent{
			Type:         ingress.EventType(raw.Kind),
			CallID:       raw.CallID,
			CallerNumber: raw.CallerNumber,
			Reason:       raw.Reason,
		})
	}
	ev, err := o.deps.Ingress.Normalize(ctx, raw)
	if errors.Is(err, ingress.ErrDuplicateEvent) {
		return nil
	}
	if err != nil {
		return err
	}
	return o.Submit(ctx, ev)
}

// reportRecognitionError feeds a speech-side failure into the call's lane
// through the normal ingress path.
func (o *Orchestrator) reportRecognitionError(callID, reason string) {
	s := o.lookup(callID)
	if s == nil {
		return
	}
	if err := o.submitInternal(context.Background(), ingress.RawNotification{
		EventID: uuid.NewString(),
		CallID:  callID,
		Kind:    string(ingress.EventRecognitionError),
		Reason:  reason,
	}); err != nil {
		o.log.Warn("recognition error dropped", "call_id", callID, "error", err)
	}
}
