package audio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrBridgeClosed is returned by Send once the bridge is shut down.
	ErrBridgeClosed = errors.New("audio: bridge closed")
	// ErrFrameTooLarge is returned for payloads over MaxPayloadBytes.
	ErrFrameTooLarge = errors.New("audio: frame payload too large")
)

// EventType discriminates bridge events.
type EventType string

const (
	EventStarted EventType = "started"
	EventFrame   EventType = "frame"
	EventMark    EventType = "mark"
	EventStopped EventType = "stopped"
)

// Event is what the bridge surfaces to its consumer: stream lifecycle,
// inbound caller audio, and playback marks.
type Event struct {
	Type EventType

	// Set on EventStarted.
	StreamSID      string
	ProviderCallID string

	// Set on EventFrame.
	Frame Frame

	// Set on EventMark.
	Mark string
}

// Conn is the subset of a websocket connection the bridge needs. Satisfied
// by *websocket.Conn.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Config tunes one bridge.
type Config struct {
	// OutboundBuffer is the outbound frame channel capacity. Producers
	// block when it is full; frames are never dropped while open.
	OutboundBuffer int

	// Grace bounds how long Close waits for the loops to drain.
	Grace time.Duration

	// OnInterrupt fires once per spoken utterance when caller audio
	// arrives while the bridge is marked speaking (barge-in). Called from
	// the read loop, so it must be fast.
	OnInterrupt func()

	Log *slog.Logger
}

// Bridge pumps call audio both ways over one media-stream websocket
// connection (Twilio Media Streams framing: start/media/mark/stop JSON
// messages with base64 mu-law payloads).
//
// Inbound frames and stream lifecycle arrive on Events. Outbound audio goes
// through Send, which preserves order and blocks when the transport is
// behind. Close tears down both directions within the configured grace
// period; unsent frames are discarded.
type Bridge struct {
	conn Conn
	cfg  Config
	log  *slog.Logger

	events chan Event
	out    chan []byte

	speaking    atomic.Bool
	interrupted atomic.Bool

	mu        sync.Mutex
	streamSID string
	inSeq     uint64
	outSeq    atomic.Uint64

	writeMu sync.Mutex

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBridge wraps an upgraded media-stream connection. Call Start to begin
// pumping.
func NewBridge(conn Conn, cfg Config) *Bridge {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 32
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		conn:   conn,
		cfg:    cfg,
		log:    log.With("component", "audio_bridge"),
		events: make(chan Event, 64),
		out:    make(chan []byte, cfg.OutboundBuffer),
		done:   make(chan struct{}),
	}
}

// Start launches the read and write loops.
func (b *Bridge) Start() {
	b.wg.Add(2)
	go b.readLoop()
	go b.writeLoop()
}

// Events delivers inbound frames and stream lifecycle events in arrival
// order. The channel closes when the stream stops or the bridge closes.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Send queues one outbound payload. It blocks while the outbound buffer is
// full so a fast synthesizer cannot outrun the transport, and fails only on
// context cancellation or bridge shutdown.
func (b *Bridge) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return ErrFrameTooLarge
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	// Once closed, both the queue and the done channel can be ready; the
	// blocking select below would then pick at random and could swallow a
	// frame. Check shutdown first so closed bridges always refuse.
	select {
	case <-b.done:
		return ErrBridgeClosed
	default:
	}

	select {
	case b.out <- cp:
		b.outSeq.Add(1)
		return nil
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSpeaking marks whether synthesized audio is currently playing. While
// set, inbound caller audio triggers the barge-in interrupt.
func (b *Bridge) SetSpeaking(on bool) {
	b.speaking.Store(on)
	if on {
		b.interrupted.Store(false)
	}
}

// SendMark asks the transport to echo a mark back once everything queued
// before it has played out.
func (b *Bridge) SendMark(name string) error {
	return b.writeJSON(mediaStreamMessage{
		Event:     "mark",
		StreamSID: b.sid(),
		Mark:      &markPayload{Name: name},
	})
}

// Clear tells the transport to discard any audio it has buffered but not
// yet played.
func (b *Bridge) Clear() error {
	return b.writeJSON(mediaStreamMessage{Event: "clear", StreamSID: b.sid()})
}

// Close shuts both directions down. Queued outbound frames are discarded.
// It waits up to the grace period for the loops to exit before returning.
func (b *Bridge) Close() error {
	var waitErr error
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.conn.Close()

		drained := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(b.cfg.Grace):
			waitErr = fmt.Errorf("audio: close grace period elapsed")
		}
	})
	return waitErr
}

func (b *Bridge) sid() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamSID
}

func (b *Bridge) writeJSON(msg mediaStreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("audio: encode %s message: %w", msg.Event, err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	select {
	case <-b.done:
		return ErrBridgeClosed
	default:
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bridge) readLoop() {
	defer b.wg.Done()
	defer close(b.events)

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.log.Warn("media stream read failed", "error", err)
			}
			return
		}

		var msg mediaStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warn("dropping unparseable media message", "error", err)
			continue
		}

		switch msg.Event {
		case "start":
			if msg.Start == nil {
				continue
			}
			b.mu.Lock()
			b.streamSID = msg.Start.StreamSID
			b.mu.Unlock()
			if !b.emit(Event{
				Type:           EventStarted,
				StreamSID:      msg.Start.StreamSID,
				ProviderCallID: msg.Start.CallSID,
			}) {
				return
			}

		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				b.log.Warn("dropping undecodable media payload", "error", err)
				continue
			}
			if b.speaking.Load() && b.interrupted.CompareAndSwap(false, true) {
				if err := b.Clear(); err != nil && !errors.Is(err, ErrBridgeClosed) {
					b.log.Warn("barge-in clear failed", "error", err)
				}
				if b.cfg.OnInterrupt != nil {
					b.cfg.OnInterrupt()
				}
			}
			b.mu.Lock()
			b.inSeq++
			seq := b.inSeq
			b.mu.Unlock()
			if !b.emit(Event{
				Type:  EventFrame,
				Frame: Frame{Direction: DirectionInbound, Seq: seq, Payload: payload},
			}) {
				return
			}

		case "mark":
			if msg.Mark == nil {
				continue
			}
			if !b.emit(Event{Type: EventMark, Mark: msg.Mark.Name}) {
				return
			}

		case "stop":
			b.emit(Event{Type: EventStopped})
			return

		case "connected":
			// Handshake preamble, nothing to surface.
		}
	}
}

// emit delivers an event unless the bridge is shutting down. Returns false
// once delivery is no longer possible.
func (b *Bridge) emit(ev Event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

func (b *Bridge) writeLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case payload := <-b.out:
			msg := mediaStreamMessage{
				Event:     "media",
				StreamSID: b.sid(),
				Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
			}
			if err := b.writeJSON(msg); err != nil {
				if !errors.Is(err, ErrBridgeClosed) {
					b.log.Warn("media stream write failed", "error", err)
				}
				return
			}
		}
	}
}

// Twilio Media Streams wire messages.
type mediaStreamMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}
