package tools

import (
	"claimline/internal/audit"
	"claimline/internal/claims"
	"claimline/internal/resilience"
	"claimline/internal/telephony"
)

// Deps are the external collaborators behind the builtin tools.
type Deps struct {
	Claims    *claims.Service
	Telephony telephony.Provider

	// Audit records tool side effects when set.
	Audit *audit.Service

	// Policy is the default retry policy for tool handlers.
	Policy resilience.Policy

	// TransferTargets restricts transfer destinations; empty allows any.
	TransferTargets []string
}

// NewCallRegistry builds the registry for one call, with telephony tools
// bound to that call's identifiers.
func NewCallRegistry(deps Deps, call CallRef) *Registry {
	r := NewRegistry(deps.Policy)

	r.Register(&GetClaimTool{Claims: deps.Claims})
	r.Register(&UpdateClaimTool{Claims: deps.Claims})

	smsPolicy := deps.Policy
	smsPolicy.Classify = classifyTelephonyErr
	r.RegisterWithPolicy(&SendSMSTool{Provider: deps.Telephony, Audit: deps.Audit, Call: call}, smsPolicy)

	r.Register(&TransferCallTool{Provider: deps.Telephony, Call: call, AllowedTargets: deps.TransferTargets})
	r.Register(&EndCallTool{})
	return r
}
