package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"claimline/internal/callstate"
	"claimline/internal/llm"
	"claimline/internal/resilience"
	"claimline/internal/tools"
)

// FallbackApology is spoken when the loop cannot produce a real response
// (round budget spent or both tiers unavailable). The call keeps going.
const FallbackApology = "I'm sorry, I'm having trouble with that right now. Could you say that again, or would you like me to transfer you to an agent?"

// FinalResponse is the terminal outcome of one turn: the text to speak,
// any call-control directive gathered from tools, and every message the
// turn produced, in order, for the append-only log.
type FinalResponse struct {
	Text      string
	Directive tools.Directive
	Messages  []callstate.Message

	// Degraded marks a fallback response (budget or availability).
	Degraded bool
}

// Loop drives the model/tool iteration for one turn.
type Loop struct {
	Provider llm.Provider
	Policy   TierPolicy

	// MaxRounds bounds model/tool iterations per turn.
	MaxRounds int

	// Retry applies to each model completion.
	Retry resilience.Policy

	SystemPrompt string

	Clock func() time.Time
	Log   *slog.Logger
}

func (l *Loop) now() time.Time {
	if l.Clock != nil {
		return l.Clock().UTC()
	}
	return time.Now().UTC()
}

func (l *Loop) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Run iterates model completions and tool dispatch until a spoken response
// is produced or the round budget is exhausted. Tool results are folded
// into history in request order regardless of completion order, so the
// model always sees a reproducible transcript.
func (l *Loop) Run(ctx context.Context, registry *tools.Registry, history []callstate.Message) (FinalResponse, error) {
	maxRounds := l.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 6
	}

	var out FinalResponse
	tc := TurnContext{}

	chat := l.toChat(history)

	for round := 0; round < maxRounds; round++ {
		tc.Round = round

		resp, err := l.complete(ctx, &tc, chat, registry.Specs())
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				l.log().Warn("model unavailable on both tiers, degrading", "round", round)
				out.Text = FallbackApology
				out.Degraded = true
				out.Messages = append(out.Messages, l.agentMessage(FallbackApology))
				return out, nil
			}
			return FinalResponse{}, fmt.Errorf("agent: completion: %w", err)
		}
		tc.LowConfidence = resp.LowConfidence

		if len(resp.ToolCalls) == 0 {
			text := resp.Content
			if text == "" {
				text = FallbackApology
				out.Degraded = true
			}
			out.Text = text
			out.Messages = append(out.Messages, l.agentMessage(text))
			return out, nil
		}

		// Record the model's tool requests before executing them.
		reqMsg := callstate.Message{Role: callstate.RoleAgent, Content: resp.Content, At: l.now()}
		tc.PendingToolNames = tc.PendingToolNames[:0]
		for _, call := range resp.ToolCalls {
			reqMsg.ToolCalls = append(reqMsg.ToolCalls, callstate.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
			tc.PendingToolNames = append(tc.PendingToolNames, call.Name)
		}
		out.Messages = append(out.Messages, reqMsg)
		chat = append(chat, l.toChatMessage(reqMsg))

		results := l.dispatch(ctx, registry, resp.ToolCalls)
		for _, res := range results {
			if res.Directive.Kind != tools.DirectiveNone {
				out.Directive = res.Directive
			}
			msg := callstate.Message{
				Role:       callstate.RoleTool,
				Content:    res.Content,
				ToolCallID: res.CallID,
				At:         l.now(),
			}
			out.Messages = append(out.Messages, msg)
			chat = append(chat, l.toChatMessage(msg))
		}
	}

	l.log().Warn("turn round budget exhausted, degrading", "max_rounds", maxRounds)
	out.Text = FallbackApology
	out.Degraded = true
	out.Messages = append(out.Messages, l.agentMessage(FallbackApology))
	return out, nil
}

// complete runs one model completion with retry, escalating tier once when
// the chosen tier is unavailable.
func (l *Loop) complete(ctx context.Context, tc *TurnContext, chat []llm.Message, specs []llm.ToolSpec) (*llm.Response, error) {
	tier := l.Policy(*tc)
	if tier == llm.TierSlow {
		tc.Escalated = true
	}

	resp, err := l.completeTier(ctx, tier, chat, specs)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, llm.ErrUnavailable) || tier == llm.TierSlow {
		return nil, err
	}

	l.log().Warn("fast tier unavailable, escalating", "err", err)
	tc.Escalated = true
	return l.completeTier(ctx, llm.TierSlow, chat, specs)
}

func (l *Loop) completeTier(ctx context.Context, tier llm.Tier, chat []llm.Message, specs []llm.ToolSpec) (*llm.Response, error) {
	var resp *llm.Response
	err := l.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = l.Provider.Complete(ctx, tier, chat, specs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// dispatch executes one round's tool calls concurrently and returns results
// in the original request order. A SchemaError becomes a corrective result
// so the model can fix its arguments next round.
func (l *Loop) dispatch(ctx context.Context, registry *tools.Registry, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			res, err := registry.Invoke(ctx, call.ID, call.Name, call.Arguments)
			if err != nil {
				var se *tools.SchemaError
				if errors.As(err, &se) {
					results[i] = tools.Result{
						CallID:  call.ID,
						Name:    call.Name,
						Content: fmt.Sprintf("invalid arguments: %s. Correct the arguments and try again, or ask the caller for the missing information.", se.Reason),
					}
					return
				}
				results[i] = tools.Result{
					CallID:  call.ID,
					Name:    call.Name,
					Content: fmt.Sprintf("error: %v", err),
					Failed:  true,
				}
				return
			}
			results[i] = res
		}(i, call)
	}
	wg.Wait()
	return results
}

func (l *Loop) agentMessage(text string) callstate.Message {
	return callstate.Message{Role: callstate.RoleAgent, Content: text, At: l.now()}
}

// toChat converts the persisted message log into the model's chat shape,
// prefixing the configured system prompt.
func (l *Loop) toChat(history []callstate.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	if l.SystemPrompt != "" {
		out = append(out, llm.Message{Role: "system", Content: l.SystemPrompt})
	}
	for _, m := range history {
		out = append(out, l.toChatMessage(m))
	}
	return out
}

func (l *Loop) toChatMessage(m callstate.Message) llm.Message {
	cm := llm.Message{Content: m.Content, ToolCallID: m.ToolCallID}
	switch m.Role {
	case callstate.RoleCaller:
		cm.Role = "user"
	case callstate.RoleAgent:
		cm.Role = "assistant"
	case callstate.RoleTool:
		cm.Role = "tool"
	default:
		cm.Role = "system"
	}
	for _, call := range m.ToolCalls {
		cm.ToolCalls = append(cm.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
	}
	return cm
}
