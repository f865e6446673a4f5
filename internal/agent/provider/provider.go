// Package provider abstracts the LLM backends used by supervisors and
// workers: Anthropic, Azure AI Foundry, Gemini and a scripted backend for
// tests and offline runs.
package provider

import (
	"context"
	"encoding/json"
	"strings"
)

// Message is a provider-neutral conversation message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolUse is set when the assistant called tools.
	ToolUse []ToolUseBlock `json:"tool_use,omitempty"`

	// ToolResult carries tool outputs back to the model. Parallel calls
	// produce several results in one message.
	ToolResult []ToolResultBlock `json:"tool_result,omitempty"`
}

// Role represents the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUseBlock represents a tool call request from the model.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock represents the result of a tool execution.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Name      string `json:"name,omitempty"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ToolDefinition defines a tool that can be called by the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Response represents the model's response.
type Response struct {
	// Content is the text content; empty when the model only called tools.
	Content    string
	ToolCalls  []ToolUseBlock
	StopReason StopReason
	Usage      Usage
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonError     StopReason = "error"
)

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends messages to the model and returns the complete response.
	Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, opts ...ChatOption) (*Response, error)

	// Name returns the provider name for logging and display.
	Name() string

	// Model returns the model identifier being used.
	Model() string
}

// ChatOptions are per-call settings.
type ChatOptions struct {
	// ToolChoice forces the model to call the named tool.
	ToolChoice string
}

type ChatOption func(*ChatOptions)

// WithToolChoice forces a call to the named tool. It is how routing gets
// schema-constrained output.
func WithToolChoice(name string) ChatOption {
	return func(o *ChatOptions) { o.ToolChoice = name }
}

func applyOptions(opts []ChatOption) ChatOptions {
	var o ChatOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Config contains common configuration for providers.
type Config struct {
	// Provider is anthropic, azure-foundry, gemini or mock. Empty infers it
	// from the model name.
	Provider string

	// Model is the model identifier (e.g., "claude-sonnet-4-5-20250929")
	Model string

	MaxTokens   int
	Temperature float64

	AnthropicAPIKey      string
	AzureFoundryEndpoint string
	AzureFoundryAPIKey   string
	GeminiAPIKey         string
}

// DefaultConfig returns sensible defaults for the agent.
func DefaultConfig() Config {
	return Config{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0.0,
	}
}

// AvailableModels lists the models offered by /models, per provider.
var AvailableModels = map[string][]string{
	"anthropic": {
		"claude-sonnet-4-5-20250929",
		"claude-haiku-4-5-20251001",
		"claude-opus-4-1-20250805",
	},
	"gemini": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
	},
}

// ContextWindowSizes maps model identifiers to their context window sizes in tokens.
var ContextWindowSizes = map[string]int{
	"claude-sonnet-4-5-20250929": 200000,
	"claude-haiku-4-5-20251001":  200000,
	"claude-opus-4-1-20250805":   200000,
	"gemini-2.5-pro":             1048576,
	"gemini-2.5-flash":           1048576,
	"gemini-2.5-flash-lite":      1048576,
	"default":                    200000,
}

// GetContextWindowSize returns the context window size for a given model.
// Returns the default size (200k) if the model is not found.
func GetContextWindowSize(model string) int {
	if size, ok := ContextWindowSizes[model]; ok {
		return size
	}
	return ContextWindowSizes["default"]
}

// InferProvider guesses the backend from a model name.
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "mock:"):
		return "mock"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	default:
		return "anthropic"
	}
}

// requiredFields reads the "required" list of a JSON schema, which may be
// []string when built in Go or []interface{} when decoded from JSON.
func requiredFields(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
