package orchestrator

import (
	"testing"

	"claimline/internal/callstate"
)

func TestNext_Transitions(t *testing.T) {
	cases := []struct {
		from callstate.Phase
		in   Input
		want callstate.Phase
		ok   bool
	}{
		{callstate.PhaseIdle, InCallConnected, callstate.PhaseConnecting, true},
		{callstate.PhaseConnecting, InAudioConnected, callstate.PhaseListening, true},
		{callstate.PhaseListening, InFinalTranscript, callstate.PhaseThinking, true},
		{callstate.PhaseListening, InRecognitionError, callstate.PhaseThinking, true},
		{callstate.PhaseThinking, InResponseReady, callstate.PhaseSpeaking, true},
		{callstate.PhaseSpeaking, InPlaybackDone, callstate.PhaseListening, true},
		{callstate.PhaseSpeaking, InBargeIn, callstate.PhaseListening, true},
		{callstate.PhaseSpeaking, InTransferRequested, callstate.PhaseTransferring, true},
		{callstate.PhaseSpeaking, InHangupRequested, callstate.PhaseEnding, true},
		{callstate.PhaseTransferring, InTransferCompleted, callstate.PhaseTerminated, true},
		{callstate.PhaseEnding, InPlaybackDone, callstate.PhaseTerminated, true},
		{callstate.PhaseErroring, InRecovered, callstate.PhaseListening, true},

		// Disconnect terminates from anywhere.
		{callstate.PhaseConnecting, InDisconnected, callstate.PhaseTerminated, true},
		{callstate.PhaseThinking, InDisconnected, callstate.PhaseTerminated, true},
		{callstate.PhaseSpeaking, InDisconnected, callstate.PhaseTerminated, true},

		// One recovery: a second fatal failure terminates.
		{callstate.PhaseListening, InFatalError, callstate.PhaseErroring, true},
		{callstate.PhaseErroring, InFatalError, callstate.PhaseTerminated, true},

		// Stimuli outside their phase are dropped.
		{callstate.PhaseIdle, InFinalTranscript, callstate.PhaseIdle, false},
		{callstate.PhaseListening, InPlaybackDone, callstate.PhaseListening, false},
		{callstate.PhaseSpeaking, InFinalTranscript, callstate.PhaseSpeaking, false},
		{callstate.PhaseThinking, InAudioConnected, callstate.PhaseThinking, false},

		// Terminated is absorbing.
		{callstate.PhaseTerminated, InDisconnected, callstate.PhaseTerminated, false},
		{callstate.PhaseTerminated, InCallConnected, callstate.PhaseTerminated, false},
	}

	for _, tc := range cases {
		got, ok := Next(tc.from, tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Next(%s, %s) = (%s, %v), want (%s, %v)", tc.from, tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
