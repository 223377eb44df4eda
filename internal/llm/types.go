package llm

import "encoding/json"

// Message is one chat message sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes a callable tool offered to the model, including its
// JSON-schema input contract.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Response is a complete model response: either spoken content or one or
// more tool calls (never both empty on success).
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// LowConfidence is set when the provider flags the completion as
	// uncertain; the tier policy may escalate on it.
	LowConfidence bool `json:"low_confidence,omitempty"`

	Usage Usage `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Tier names a model configuration trading latency for reasoning depth.
type Tier string

const (
	TierFast Tier = "fast"
	TierSlow Tier = "slow"
)
