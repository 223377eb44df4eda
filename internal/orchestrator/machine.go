package orchestrator

import "claimline/internal/callstate"

// Input is a state-machine stimulus: a normalized ingress event, a speech
// pipeline signal, or an internal completion.
type Input string

const (
	InCallConnected     Input = "call_connected"
	InAudioConnected    Input = "audio_connected"
	InFinalTranscript   Input = "final_transcript"
	InRecognitionError  Input = "recognition_error"
	InResponseReady     Input = "response_ready"
	InPlaybackDone      Input = "playback_done"
	InBargeIn           Input = "barge_in"
	InTransferRequested Input = "transfer_requested"
	InHangupRequested   Input = "hangup_requested"
	InTransferCompleted Input = "transfer_completed"
	InDisconnected      Input = "disconnected"
	InFatalError        Input = "fatal_error"
	InRecovered         Input = "recovered"
)

// Next is the call state machine's transition table. It is pure: callers
// perform persistence and side effects only after a transition is allowed.
// The bool result is false for stimuli that do not apply in the phase;
// those are dropped by the caller (late webhooks, duplicate signals).
func Next(p callstate.Phase, in Input) (callstate.Phase, bool) {
	// Universal rows first: disconnect terminates from anywhere, and any
	// non-terminal phase can fall into Erroring.
	if p == callstate.PhaseTerminated {
		return p, false
	}
	switch in {
	case InDisconnected:
		return callstate.PhaseTerminated, true
	case InFatalError:
		if p == callstate.PhaseErroring {
			// Second fatal failure: recovery is spent.
			return callstate.PhaseTerminated, true
		}
		return callstate.PhaseErroring, true
	}

	switch p {
	case callstate.PhaseIdle:
		if in == InCallConnected {
			return callstate.PhaseConnecting, true
		}
	case callstate.PhaseConnecting:
		if in == InAudioConnected {
			return callstate.PhaseListening, true
		}
	case callstate.PhaseListening:
		switch in {
		case InFinalTranscript, InRecognitionError:
			return callstate.PhaseThinking, true
		}
	case callstate.PhaseThinking:
		switch in {
		case InResponseReady:
			return callstate.PhaseSpeaking, true
		case InHangupRequested:
			return callstate.PhaseEnding, true
		}
	case callstate.PhaseSpeaking:
		switch in {
		case InPlaybackDone, InBargeIn:
			return callstate.PhaseListening, true
		case InTransferRequested:
			return callstate.PhaseTransferring, true
		case InHangupRequested:
			return callstate.PhaseEnding, true
		}
	case callstate.PhaseTransferring:
		if in == InTransferCompleted {
			return callstate.PhaseTerminated, true
		}
	case callstate.PhaseEnding:
		if in == InPlaybackDone || in == InHangupRequested {
			return callstate.PhaseTerminated, true
		}
	case callstate.PhaseErroring:
		if in == InRecovered {
			return callstate.PhaseListening, true
		}
	}
	return p, false
}
