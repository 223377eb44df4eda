package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"claimline/internal/agent"
	"claimline/internal/audit"
	"claimline/internal/callstate"
	"claimline/internal/ingress"
	"claimline/internal/speech"
	"claimline/internal/telephony"
	"claimline/internal/tools"
)

var (
	// ErrUnknownCall is returned for events and operator actions against a
	// call the orchestrator is not tracking.
	ErrUnknownCall = errors.New("orchestrator: unknown call")
	// ErrCallerBusy is returned when the per-caller concurrency cap rejects
	// a new call.
	ErrCallerBusy = errors.New("orchestrator: caller at concurrency cap")
	// ErrShuttingDown is returned once Stop has begun.
	ErrShuttingDown = errors.New("orchestrator: shutting down")
)

// CallerCap bounds simultaneous active calls per caller number. A nil cap
// means unlimited.
type CallerCap interface {
	Acquire(ctx context.Context, caller string) (bool, error)
	Release(ctx context.Context, caller string) error
}

// Config tunes the orchestrator.
type Config struct {
	// MaxRecognitionRetries bounds consecutive recognition failures per
	// turn before the graceful-close sequence starts.
	MaxRecognitionRetries int

	// MaxConcurrentTurns caps model/tool work across all calls. Per-call
	// processing stays strictly sequential regardless.
	MaxConcurrentTurns int64

	// LaneBuffer is the per-call signal queue capacity.
	LaneBuffer int

	// Goodbye is spoken during the degraded graceful close.
	Goodbye string

	// Apology is spoken for the single in-call error recovery.
	Apology string
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxRecognitionRetries <= 0 {
		out.MaxRecognitionRetries = 2
	}
	if out.MaxConcurrentTurns <= 0 {
		out.MaxConcurrentTurns = 8
	}
	if out.LaneBuffer <= 0 {
		out.LaneBuffer = 64
	}
	if out.Goodbye == "" {
		out.Goodbye = "I'm sorry, I'm unable to continue this call right now. Please call back or hold for an agent. Goodbye."
	}
	if out.Apology == "" {
		out.Apology = "I'm sorry, something went wrong on my end. Let's try that again."
	}
	return out
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Store       callstate.Store
	Agent       *agent.Loop
	Tools       tools.Deps
	Telephony   telephony.Provider
	Recognizers speech.RecognizerFactory
	Synth       speech.Synthesizer
	Ingress     *ingress.Adapter
	Audit       *audit.Service
	Cap         CallerCap

	Log   *slog.Logger
	Clock func() time.Time
}

// Orchestrator drives one state machine per call. Events for the same call
// are processed strictly in order on that call's lane; calls are fully
// parallel up to the global turn cap.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	sem  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		log:      log.With("component", "orchestrator"),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentTurns),
		sessions: make(map[string]*session),
	}
}

// Start initialises the orchestrator's context. Must be called before Submit.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
}

// Stop cancels all lanes and waits for in-flight work to wind down.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit routes one normalized ingress event to its call's lane. It is the
// ingress Sink. A connect event for an unknown call creates the call; other
// events for unknown calls are dropped (late or re-ordered webhooks).
func (o *Orchestrator) Submit(ctx context.Context, ev ingress.CallEvent) error {
	if ev.Type == ingress.EventCallConnected {
		return o.admit(ctx, ev)
	}

	s := o.lookup(ev.CallID)
	if s == nil {
		o.log.Debug("dropping event for unknown call", "call_id", ev.CallID, "type", ev.Type)
		return nil
	}
	if ev.Type == ingress.EventCallDisconnected {
		// Unblock any in-flight model or playback work immediately so a
		// slow completion cannot delay recording the disconnect.
		s.cancelInflight()
	}
	return s.submit(signal{kind: sigIngress, ev: ev})
}

// admit creates the call: per-caller cap check, durable state creation,
// then a fresh lane. The record is persisted before the webhook answer is
// written so a crash right after admission still knows about the call.
func (o *Orchestrator) admit(ctx context.Context, ev ingress.CallEvent) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := o.sessions[ev.CallID]; exists {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	capHeld := false
	if o.deps.Cap != nil && ev.CallerNumber != "" {
		ok, err := o.deps.Cap.Acquire(ctx, ev.CallerNumber)
		if err != nil {
			return fmt.Errorf("orchestrator: caller cap: %w", err)
		}
		if !ok {
			o.log.Warn("caller at concurrency cap", "caller", ev.CallerNumber)
			return ErrCallerBusy
		}
		capHeld = true
	}

	st := callstate.New(ev.CallID, ev.CallerNumber, o.deps.Clock())
	if _, err := o.deps.Store.Create(ctx, st); err != nil {
		if capHeld {
			_ = o.deps.Cap.Release(ctx, ev.CallerNumber)
		}
		return fmt.Errorf("orchestrator: create call state: %w", err)
	}

	s := &session{
		o:       o,
		callID:  ev.CallID,
		caller:  ev.CallerNumber,
		service: ev.ServiceNumber,
		phase:   callstate.PhaseConnecting,
		lane:    make(chan signal, o.cfg.LaneBuffer),
		capHeld: capHeld,
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		if capHeld {
			_ = o.deps.Cap.Release(ctx, ev.CallerNumber)
		}
		return ErrShuttingDown
	}
	o.sessions[ev.CallID] = s
	o.wg.Add(1)
	go s.run()
	o.mu.Unlock()

	o.log.Info("call admitted", "call_id", ev.CallID, "caller", ev.CallerNumber)
	return nil
}

func (o *Orchestrator) lookup(callID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[callID]
}

func (o *Orchestrator) remove(callID string) {
	o.mu.Lock()
	delete(o.sessions, callID)
	o.mu.Unlock()
}

// ForceHangup tears down a live call on an operator's behalf. The hangup is
// processed on the call's lane like any other stimulus.
func (o *Orchestrator) ForceHangup(ctx context.Context, callID, operatorID, role string) error {
	s := o.lookup(callID)
	if s == nil {
		return ErrUnknownCall
	}
	s.cancelInflight()
	return s.submit(signal{kind: sigForceHangup, operatorID: operatorID, operatorRole: role})
}

// ActiveCalls returns the ids of calls currently tracked in memory.
func (o *Orchestrator) ActiveCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		out = append(out, id)
	}
	return out
}
