package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TierConfig selects the model and sampling knobs for one tier.
type TierConfig struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// ClientConfig configures the chat-completions client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Fast    TierConfig
	Slow    TierConfig
	Timeout time.Duration
}

// Client implements Provider against an OpenAI-compatible chat completions
// endpoint. No provider SDK dependency; plain HTTP like the rest of the
// adapter boundary.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) tier(t Tier) TierConfig {
	if t == TierSlow {
		return c.cfg.Slow
	}
	return c.cfg.Fast
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []requestMessage `json:"messages"`
	Tools       []requestTool    `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
}

type requestMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []requestToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

type requestTool struct {
	Type     string       `json:"type"`
	Function requestToolF `json:"function"`
}

type requestToolF struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type requestToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function requestFunction `json:"function"`
}

type requestFunction struct {
	Name string `json:"name"`
	// Arguments is the JSON-encoded argument object as a string, matching
	// the chat-completions wire format.
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

type choice struct {
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type responseMessage struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []responseToolCall `json:"tool_calls,omitempty"`
}

type responseToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function responseFunction `json:"function"`
}

type responseFunction struct {
	Name string `json:"name"`
	// Arguments arrives as a JSON-encoded string, not a nested object.
	Arguments string `json:"arguments"`
}

type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends a chat completion request against the given tier.
// 5xx and transport failures surface as ErrUnavailable so callers can
// escalate; 4xx are returned as-is (they will not improve on retry).
func (c *Client) Complete(ctx context.Context, tier Tier, messages []Message, tools []ToolSpec) (*Response, error) {
	tc := c.tier(tier)
	if tc.Model == "" {
		return nil, fmt.Errorf("llm: no model configured for tier %s", tier)
	}

	reqMessages := make([]requestMessage, len(messages))
	for i, m := range messages {
		rm := requestMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			rm.ToolCalls = append(rm.ToolCalls, requestToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: requestFunction{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		reqMessages[i] = rm
	}

	reqBody := chatRequest{Model: tc.Model, Messages: reqMessages, MaxTokens: tc.MaxTokens}
	if tc.Temperature != 0 {
		t := tc.Temperature
		reqBody.Temperature = &t
	}
	for _, spec := range tools {
		reqBody.Tools = append(reqBody.Tools, requestTool{
			Type:     "function",
			Function: requestToolF{Name: spec.Name, Description: spec.Description, Parameters: spec.Parameters},
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: api error (status %d): %s", resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("llm: parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response")
	}

	ch := chatResp.Choices[0]
	out := &Response{
		Content:       ch.Message.Content,
		LowConfidence: ch.FinishReason == "length",
		Usage: Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}
	for _, tc := range ch.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}
