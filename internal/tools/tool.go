package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"claimline/internal/llm"
	"claimline/internal/resilience"
)

// Tool is a named, schema-validated, side-effecting operation the model may
// invoke. Each implementation wraps exactly one external collaborator call.
type Tool interface {
	Name() string
	Description() string
	// InputSchema is the JSON-schema object contract for arguments.
	InputSchema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (Outcome, error)
}

// Outcome is what a successful tool execution hands back.
type Outcome struct {
	// Content is fed back to the model as the tool-result message.
	Content string

	// Directive optionally instructs the orchestrator to act on the call
	// itself (transfer, hangup) after the turn completes.
	Directive Directive
}

type Directive struct {
	Kind   DirectiveKind
	Target string
}

type DirectiveKind string

const (
	DirectiveNone     DirectiveKind = ""
	DirectiveTransfer DirectiveKind = "transfer"
	DirectiveHangup   DirectiveKind = "hangup"
)

// Result is the resolved outcome of one tool call, correlated back to the
// model's request id.
type Result struct {
	CallID  string
	Name    string
	Content string
	// Failed marks handler-error exhaustion; the model reacts to it
	// conversationally instead of the call terminating.
	Failed    bool
	Directive Directive
}

// SchemaError reports malformed arguments from the model. It is never
// retried; callers convert it into a corrective message.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tools: %s: invalid arguments: %s", e.Tool, e.Reason)
}

// Registry is the capability set of registered tools.
type Registry struct {
	tools    map[string]Tool
	order    []string
	policies map[string]resilience.Policy
	// defaultPolicy applies to tools registered without their own.
	defaultPolicy resilience.Policy
}

func NewRegistry(defaultPolicy resilience.Policy) *Registry {
	return &Registry{
		tools:         make(map[string]Tool),
		policies:      make(map[string]resilience.Policy),
		defaultPolicy: defaultPolicy,
	}
}

// Register adds a tool under the registry's default retry policy.
func (r *Registry) Register(t Tool) {
	r.RegisterWithPolicy(t, r.defaultPolicy)
}

// RegisterWithPolicy adds a tool with its own retry policy.
func (r *Registry) RegisterWithPolicy(t Tool, p resilience.Policy) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	r.policies[t.Name()] = p
}

// Specs returns tool descriptions for the model, in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return out
}

// Invoke validates args against the tool's schema and executes the handler
// under its retry policy.
//
// Error contract:
//   - unknown tool or malformed args → *SchemaError (never retried)
//   - handler failure after retry exhaustion → Result{Failed: true}, nil
func (r *Registry) Invoke(ctx context.Context, callID, name string, args json.RawMessage) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, &SchemaError{Tool: name, Reason: "unknown tool"}
	}
	if reason := validateArgs(t.InputSchema(), args); reason != "" {
		return Result{}, &SchemaError{Tool: name, Reason: reason}
	}

	policy := r.policies[name]
	var out Outcome
	err := policy.Do(ctx, func(ctx context.Context) error {
		var execErr error
		out, execErr = t.Execute(ctx, args)
		return execErr
	})
	if err != nil {
		return Result{
			CallID:  callID,
			Name:    name,
			Content: fmt.Sprintf("error: %v", err),
			Failed:  true,
		}, nil
	}

	return Result{
		CallID:    callID,
		Name:      name,
		Content:   out.Content,
		Directive: out.Directive,
	}, nil
}
