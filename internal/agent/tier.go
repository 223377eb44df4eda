package agent

import (
	"claimline/internal/llm"
)

// TurnContext is what the tier policy sees when picking a model.
type TurnContext struct {
	// Round is the 0-based tool round within this turn.
	Round int
	// LowConfidence is set when the previous completion was flagged
	// uncertain by the provider.
	LowConfidence bool
	// PendingToolNames are the tools requested in the previous round.
	PendingToolNames []string
	// Escalated is set once the turn already moved to the slow tier.
	Escalated bool
}

// TierPolicy selects a model tier for one completion. Modeled as a plain
// function so turn-taking policy is unit-testable without the orchestrator.
type TierPolicy func(TurnContext) llm.Tier

// NewTierPolicy returns the default policy: fast for latency-sensitive
// turns, slow once the fast tier flags low confidence or a requested tool
// needs deeper reasoning.
func NewTierPolicy(complexTools []string) TierPolicy {
	complex := make(map[string]struct{}, len(complexTools))
	for _, name := range complexTools {
		complex[name] = struct{}{}
	}

	return func(tc TurnContext) llm.Tier {
		if tc.Escalated || tc.LowConfidence {
			return llm.TierSlow
		}
		for _, name := range tc.PendingToolNames {
			if _, ok := complex[name]; ok {
				return llm.TierSlow
			}
		}
		return llm.TierFast
	}
}
