// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []Tool
	ToolChoice  string
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
// Assistant messages may carry tool calls; tool messages answer one call by ID.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool is a function the model may call. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewOpenAIClient(apiKey)
	}
}

// withoutToolTurns rewrites tool calls and tool results as plain text. It is applied when a
// request declares no tools, since providers reject tool blocks without tool definitions.
func withoutToolTurns(msgs []ChatMessage) []ChatMessage {
	names := make(map[string]string)
	out := make([]ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch {
		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			lines := make([]string, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				lines = append(lines, msg.Content)
			}
			for _, call := range msg.ToolCalls {
				names[call.ID] = call.Name
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				lines = append(lines, fmt.Sprintf("(called %s with %s)", call.Name, args))
			}
			out = append(out, ChatMessage{Role: RoleAssistant, Content: strings.Join(lines, "\n")})
		case msg.Role == RoleTool:
			name := names[msg.ToolCallID]
			if name == "" {
				name = "tool"
			}
			out = append(out, ChatMessage{Role: RoleUser, Content: fmt.Sprintf("(%s returned: %s)", name, msg.Content)})
		default:
			out = append(out, msg)
		}
	}
	return out
}

func requestStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
