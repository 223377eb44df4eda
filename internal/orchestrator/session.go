package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"claimline/internal/audio"
	"claimline/internal/callstate"
	"claimline/internal/ingress"
	"claimline/internal/speech"
	"claimline/internal/telephony"
	"claimline/internal/tools"
)

type signalKind int

const (
	sigIngress signalKind = iota
	sigTranscript
	sigPlaybackDone
	sigBargeIn
	sigForceHangup
)

type signal struct {
	kind signalKind

	ev   ingress.CallEvent
	text string
	mark string

	operatorID   string
	operatorRole string
}

// session is the per-call lane: one goroutine owns all state transitions
// for one call, so events never interleave within a call.
type session struct {
	o *Orchestrator

	callID  string
	caller  string
	service string
	voice   string
	capHeld bool

	lane  chan signal
	phase callstate.Phase

	// pending is the call-control directive collected from the last
	// response, applied once its spoken part finishes playing.
	pending tools.Directive

	recovered  bool
	terminated bool
	utter      int

	mu          sync.Mutex
	bridge      *audio.Bridge
	recognizer  speech.Recognizer
	turnCancel  context.CancelFunc
	speakCancel context.CancelFunc
}

func (s *session) submit(sig signal) error {
	select {
	case s.lane <- sig:
		return nil
	default:
		return fmt.Errorf("orchestrator: lane full for call %s", s.callID)
	}
}

func (s *session) run() {
	defer s.o.wg.Done()
	for {
		select {
		case sig := <-s.lane:
			s.handle(sig)
			if s.terminated {
				return
			}
		case <-s.o.ctx.Done():
			s.terminate("shutdown")
			return
		}
	}
}

func (s *session) handle(sig signal) {
	switch sig.kind {
	case sigIngress:
		s.handleIngress(sig.ev)
	case sigTranscript:
		s.handleTranscript(sig.text)
	case sigPlaybackDone:
		s.handlePlaybackDone()
	case sigBargeIn:
		s.handleBargeIn()
	case sigForceHangup:
		s.handleForceHangup(sig.operatorID, sig.operatorRole)
	}
}

func (s *session) handleIngress(ev ingress.CallEvent) {
	switch ev.Type {
	case ingress.EventAudioConnected:
		next, ok := Next(s.phase, InAudioConnected)
		if !ok {
			return
		}
		if err := s.persistPhase(next); err != nil {
			s.fatal(err)
			return
		}
		if err := s.startRecognizer(); err != nil {
			s.fatal(err)
		}

	case ingress.EventRecognitionError:
		s.handleRecognitionError(ev.Reason)

	case ingress.EventTransferCompleted:
		if _, ok := Next(s.phase, InTransferCompleted); !ok {
			return
		}
		s.terminate("transfer completed")

	case ingress.EventCallDisconnected:
		s.terminate("caller disconnected")

	case ingress.EventCallConnected, ingress.EventAudioChunk:
		// Connect is handled at admission; chunks flow through the bridge.
	}
}

func (s *session) handleTranscript(text string) {
	next, ok := Next(s.phase, InFinalTranscript)
	if !ok {
		s.o.log.Debug("dropping transcript outside listening", "call_id", s.callID, "phase", s.phase)
		return
	}
	now := s.o.deps.Clock()
	_, err := s.update(func(st *callstate.CallState) error {
		st.AppendMessage(callstate.Message{Role: callstate.RoleCaller, Content: text, At: now})
		st.Phase = next
		st.RecognitionFailures = 0
		return nil
	})
	if err != nil {
		s.fatal(err)
		return
	}
	s.think()
}

// handleRecognitionError treats a failed recognition as an empty utterance
// with a retry hint, bounded per turn. Exceeding the bound starts the
// degraded graceful close instead of looping.
func (s *session) handleRecognitionError(reason string) {
	next, ok := Next(s.phase, InRecognitionError)
	if !ok {
		return
	}
	now := s.o.deps.Clock()
	st, err := s.update(func(st *callstate.CallState) error {
		st.RecognitionFailures++
		st.Phase = next
		st.AppendMessage(callstate.Message{
			Role:    callstate.RoleSystem,
			Content: "The caller's speech could not be recognized. Ask them to repeat themselves.",
			At:      now,
		})
		return nil
	})
	if err != nil {
		s.fatal(err)
		return
	}
	s.o.log.Warn("recognition failed", "call_id", s.callID, "failures", st.RecognitionFailures, "reason", reason)

	if st.RecognitionFailures > s.o.cfg.MaxRecognitionRetries {
		s.gracefulClose()
		return
	}
	if err := s.restartRecognizer(); err != nil {
		s.fatal(err)
		return
	}
	s.think()
}

func (s *session) handlePlaybackDone() {
	switch s.phase {
	case callstate.PhaseSpeaking:
		s.setSpeakingOff()
		if s.pending.Kind != tools.DirectiveNone {
			s.applyDirective()
			return
		}
		next, _ := Next(s.phase, InPlaybackDone)
		if err := s.persistPhase(next); err != nil {
			s.fatal(err)
		}
	case callstate.PhaseEnding:
		s.setSpeakingOff()
		s.hangup("call ended")
		s.terminate("call ended")
	}
}

func (s *session) handleBargeIn() {
	if s.phase != callstate.PhaseSpeaking {
		return
	}
	s.setSpeakingOff()
	if s.pending.Kind != tools.DirectiveNone {
		// The caller interrupted the lead-in to a transfer or goodbye;
		// the call-control action still happens.
		s.applyDirective()
		return
	}
	next, _ := Next(s.phase, InBargeIn)
	if err := s.persistPhase(next); err != nil {
		s.fatal(err)
	}
}

func (s *session) handleForceHangup(operatorID, role string) {
	s.hangup("forced hangup")
	if s.o.deps.Audit != nil {
		if err := s.o.deps.Audit.LogForcedHangup(s.closeCtx(), s.callID, operatorID, role); err != nil {
			s.o.log.Warn("audit forced hangup failed", "call_id", s.callID, "error", err)
		}
	}
	s.terminate("forced hangup")
}

// think runs one model/tool turn under the global turn cap, persists its
// output, then starts playback. The persisted write always lands before
// the first synthesized byte moves (persist-before-speak).
func (s *session) think() {
	if err := s.o.sem.Acquire(s.o.ctx, 1); err != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.o.ctx)
	s.setTurnCancel(cancel)
	defer func() {
		s.setTurnCancel(nil)
		cancel()
	}()

	st, err := s.o.deps.Store.Load(ctx, s.callID)
	if err != nil {
		s.o.sem.Release(1)
		s.fatal(err)
		return
	}

	registry := tools.NewCallRegistry(s.o.deps.Tools, tools.CallRef{
		ProviderCallID: s.callID,
		CallerNumber:   s.caller,
		ServiceNumber:  s.service,
	})
	out, err := s.o.deps.Agent.Run(ctx, registry, st.Messages)
	s.o.sem.Release(1)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fatal(err)
		return
	}

	next, ok := Next(s.phase, InResponseReady)
	if !ok {
		return
	}
	if _, err := s.update(func(st *callstate.CallState) error {
		for _, m := range out.Messages {
			st.AppendMessage(m)
		}
		st.Phase = next
		return nil
	}); err != nil {
		s.fatal(err)
		return
	}

	s.pending = out.Directive
	if out.Text == "" {
		// Nothing to play; apply any call-control action immediately.
		if s.pending.Kind != tools.DirectiveNone {
			s.applyDirective()
		} else {
			next, _ := Next(s.phase, InPlaybackDone)
			if err := s.persistPhase(next); err != nil {
				s.fatal(err)
			}
		}
		return
	}
	if err := s.speak(out.Text); err != nil {
		s.o.log.Error("playback failed", "call_id", s.callID, "error", err)
		s.hangup("audio transport failed")
		s.terminate("audio transport failed")
	}
}

// speak synthesizes text and queues it on the bridge. It returns once the
// audio is queued with a trailing mark; the Speaking phase ends when the
// transport echoes the mark (handlePlaybackDone) or on barge-in.
func (s *session) speak(text string) error {
	b := s.getBridge()
	if b == nil {
		return errors.New("orchestrator: no media stream attached")
	}

	ctx, cancel := context.WithCancel(s.o.ctx)
	s.setSpeakCancel(cancel)
	defer s.setSpeakCancel(nil)

	chunks, err := s.o.deps.Synth.Synthesize(ctx, text, s.voice)
	if err != nil {
		cancel()
		return fmt.Errorf("synthesize: %w", err)
	}

	b.SetSpeaking(true)
	for chunk := range chunks {
		if err := b.Send(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				// Barge-in or teardown cancelled playback mid-stream.
				return nil
			}
			b.SetSpeaking(false)
			return fmt.Errorf("send frame: %w", err)
		}
	}

	s.utter++
	if err := b.SendMark(fmt.Sprintf("utterance-%d", s.utter)); err != nil && !errors.Is(err, audio.ErrBridgeClosed) {
		b.SetSpeaking(false)
		return fmt.Errorf("send mark: %w", err)
	}
	return nil
}

// applyDirective performs the call-control action collected from the tools
// once its spoken lead-in has finished.
func (s *session) applyDirective() {
	directive := s.pending
	s.pending = tools.Directive{}

	switch directive.Kind {
	case tools.DirectiveTransfer:
		next, ok := Next(s.phase, InTransferRequested)
		if !ok {
			return
		}
		if err := s.persistPhase(next); err != nil {
			s.fatal(err)
			return
		}
		err := s.o.deps.Tools.Policy.Do(s.closeCtx(), func(ctx context.Context) error {
			return s.o.deps.Telephony.Transfer(ctx, telephony.TransferRequest{
				ProviderCallID: s.callID,
				Target:         directive.Target,
			})
		})
		if err != nil {
			s.o.log.Error("transfer failed", "call_id", s.callID, "target", directive.Target, "error", err)
			s.fatal(err)
			return
		}
		if s.o.deps.Audit != nil {
			if aerr := s.o.deps.Audit.LogTransfer(s.closeCtx(), s.callID, directive.Target); aerr != nil {
				s.o.log.Warn("audit transfer failed", "call_id", s.callID, "error", aerr)
			}
		}
		// Terminated on the provider's transfer-completed callback.

	case tools.DirectiveHangup:
		next, ok := Next(s.phase, InHangupRequested)
		if !ok {
			return
		}
		if next == callstate.PhaseTerminated {
			s.hangup("agent ended call")
			s.terminate("agent ended call")
			return
		}
		if err := s.persistPhase(next); err != nil {
			s.fatal(err)
			return
		}
		s.hangup("agent ended call")
		s.terminate("agent ended call")
	}
}

// gracefulClose speaks the scripted goodbye and hangs up. Used when the
// call is no longer usable but the caller must not be left hanging.
func (s *session) gracefulClose() {
	goodbye := s.o.cfg.Goodbye
	now := s.o.deps.Clock()
	_, err := s.update(func(st *callstate.CallState) error {
		st.AppendMessage(callstate.Message{Role: callstate.RoleAgent, Content: goodbye, At: now})
		st.Phase = callstate.PhaseEnding
		return nil
	})
	if err != nil {
		s.hangup("degraded close")
		s.terminate("degraded close")
		return
	}
	s.phase = callstate.PhaseEnding
	if err := s.speak(goodbye); err != nil {
		s.hangup("degraded close")
		s.terminate("degraded close")
	}
	// Playback completion in the Ending phase hangs up and terminates.
}

// fatal routes an unusable-turn failure through the Erroring phase: one
// apologize-and-continue recovery, then termination.
func (s *session) fatal(err error) {
	s.o.log.Error("call entered error path", "call_id", s.callID, "phase", s.phase, "error", err)

	next, ok := Next(s.phase, InFatalError)
	if !ok || next == callstate.PhaseTerminated || s.recovered {
		s.hangup("unrecoverable failure")
		s.terminate("unrecoverable failure")
		return
	}

	s.recovered = true
	if perr := s.persistPhase(callstate.PhaseErroring); perr != nil {
		s.hangup("unrecoverable failure")
		s.terminate("unrecoverable failure")
		return
	}

	apology := s.o.cfg.Apology
	now := s.o.deps.Clock()
	recoveredPhase, _ := Next(callstate.PhaseErroring, InRecovered)
	if _, perr := s.update(func(st *callstate.CallState) error {
		st.AppendMessage(callstate.Message{Role: callstate.RoleAgent, Content: apology, At: now})
		st.Phase = recoveredPhase
		return nil
	}); perr != nil {
		s.hangup("unrecoverable failure")
		s.terminate("unrecoverable failure")
		return
	}
	if serr := s.speak(apology); serr != nil {
		s.hangup("unrecoverable failure")
		s.terminate("unrecoverable failure")
	}
}

func (s *session) hangup(reason string) {
	err := s.o.deps.Tools.Policy.Do(s.closeCtx(), func(ctx context.Context) error {
		herr := s.o.deps.Telephony.Hangup(ctx, telephony.HangupRequest{ProviderCallID: s.callID})
		if errors.Is(herr, telephony.ErrCallGone) {
			return nil
		}
		return herr
	})
	if err != nil {
		s.o.log.Warn("hangup failed", "call_id", s.callID, "error", err)
		return
	}
	if s.o.deps.Audit != nil {
		if aerr := s.o.deps.Audit.LogHangup(s.closeCtx(), s.callID, reason); aerr != nil {
			s.o.log.Warn("audit hangup failed", "call_id", s.callID, "error", aerr)
		}
	}
}

// terminate is the single teardown path: cancel in-flight work, tear the
// bridge down synchronously, archive the state, release resources. It is
// idempotent; whichever stimulus arrives first wins.
func (s *session) terminate(reason string) {
	if s.terminated {
		return
	}
	s.phase = callstate.PhaseTerminated

	s.mu.Lock()
	s.terminated = true
	turnCancel, speakCancel := s.turnCancel, s.speakCancel
	bridge, rec := s.bridge, s.recognizer
	s.bridge, s.recognizer = nil, nil
	s.mu.Unlock()

	if speakCancel != nil {
		speakCancel()
	}
	if turnCancel != nil {
		turnCancel()
	}
	if rec != nil {
		_ = rec.Close()
	}
	if bridge != nil {
		_ = bridge.Close()
	}

	ctx := s.closeCtx()
	if _, err := callstate.Archive(ctx, s.o.deps.Store, s.callID, s.o.deps.Clock()); err != nil {
		s.o.log.Error("archive failed", "call_id", s.callID, "error", err)
	}
	if s.o.deps.Audit != nil {
		if err := s.o.deps.Audit.LogArchived(ctx, s.callID); err != nil {
			s.o.log.Warn("audit archive failed", "call_id", s.callID, "error", err)
		}
	}
	if s.capHeld && s.o.deps.Cap != nil {
		if err := s.o.deps.Cap.Release(ctx, s.caller); err != nil {
			s.o.log.Warn("caller cap release failed", "caller", s.caller, "error", err)
		}
	}
	if s.o.deps.Ingress != nil {
		s.o.deps.Ingress.Forget(ctx, s.callID)
	}
	s.o.remove(s.callID)
	s.o.log.Info("call terminated", "call_id", s.callID, "reason", reason)
}

// closeCtx returns a context usable during teardown even when the
// orchestrator's own context is already cancelled. Teardown calls rely on
// the collaborators' own client timeouts.
func (s *session) closeCtx() context.Context {
	if s.o.ctx != nil && s.o.ctx.Err() == nil {
		return s.o.ctx
	}
	return context.Background()
}

func (s *session) startRecognizer() error {
	if s.o.deps.Recognizers == nil {
		return errors.New("orchestrator: recognizer factory not configured")
	}
	rec, err := s.o.deps.Recognizers(s.o.ctx)
	if err != nil {
		return fmt.Errorf("open recognizer: %w", err)
	}
	if err := rec.Start(s.o.ctx); err != nil {
		return fmt.Errorf("start recognizer: %w", err)
	}

	s.mu.Lock()
	s.recognizer = rec
	s.mu.Unlock()

	go s.pumpTranscripts(rec)
	return nil
}

func (s *session) restartRecognizer() error {
	s.mu.Lock()
	old := s.recognizer
	s.recognizer = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return s.startRecognizer()
}

// pumpTranscripts forwards final transcripts to the lane. A stream that
// dies while the call is live is reported as a recognition error so the
// bounded-retry path can decide what to do.
func (s *session) pumpTranscripts(rec speech.Recognizer) {
	for tr := range rec.Results() {
		if tr.Final && strings.TrimSpace(tr.Text) != "" {
			if err := s.submit(signal{kind: sigTranscript, text: tr.Text}); err != nil {
				s.o.log.Warn("transcript dropped", "call_id", s.callID, "error", err)
			}
		}
	}

	s.mu.Lock()
	current := s.recognizer
	dead := s.terminated
	s.mu.Unlock()
	if dead || current != rec {
		return
	}
	s.o.reportRecognitionError(s.callID, "recognition stream closed")
}

func (s *session) attachBridge(b *audio.Bridge) {
	s.mu.Lock()
	s.bridge = b
	s.mu.Unlock()
}

func (s *session) getBridge() *audio.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

func (s *session) setSpeakingOff() {
	if b := s.getBridge(); b != nil {
		b.SetSpeaking(false)
	}
}

func (s *session) feedAudio(chunk []byte) {
	s.mu.Lock()
	rec := s.recognizer
	s.mu.Unlock()
	if rec == nil {
		// Audio arriving before the recognizer is up; nothing to feed yet.
		return
	}
	if err := rec.Write(chunk); err != nil {
		s.o.log.Warn("recognizer write failed", "call_id", s.callID, "error", err)
	}
}

// cancelInflight aborts the current model turn and playback without waiting
// for the lane, so teardown stimuli take effect immediately.
func (s *session) cancelInflight() {
	s.mu.Lock()
	turnCancel, speakCancel := s.turnCancel, s.speakCancel
	s.mu.Unlock()
	if speakCancel != nil {
		speakCancel()
	}
	if turnCancel != nil {
		turnCancel()
	}
}

// interrupt is the low-latency barge-in path: cancel playback immediately,
// then let the lane record the transition.
func (s *session) interrupt() {
	s.mu.Lock()
	cancel := s.speakCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := s.submit(signal{kind: sigBargeIn}); err != nil {
		s.o.log.Warn("barge-in signal dropped", "call_id", s.callID, "error", err)
	}
}

func (s *session) setTurnCancel(fn context.CancelFunc) {
	s.mu.Lock()
	s.turnCancel = fn
	s.mu.Unlock()
}

func (s *session) setSpeakCancel(fn context.CancelFunc) {
	s.mu.Lock()
	s.speakCancel = fn
	s.mu.Unlock()
}

// update persists a mutation with conflict retry and mirrors the phase.
func (s *session) update(fn callstate.Mutator) (*callstate.CallState, error) {
	st, err := callstate.UpdateWithRetry(s.closeCtx(), s.o.deps.Store, s.callID, fn)
	if err != nil {
		return nil, err
	}
	s.phase = st.Phase
	return st, nil
}

func (s *session) persistPhase(p callstate.Phase) error {
	_, err := s.update(func(st *callstate.CallState) error {
		st.Phase = p
		return nil
	})
	return err
}
