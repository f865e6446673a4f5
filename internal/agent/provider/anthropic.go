package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider using the Anthropic Claude API.
type AnthropicProvider struct {
	client anthropic.Client
	config Config
}

// NewAnthropicProvider creates a provider. Without an explicit key the SDK
// reads ANTHROPIC_API_KEY.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}

	var opts []option.RequestOption
	if cfg.AnthropicAPIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.AnthropicAPIKey))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}, nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, opts ...ChatOption) (*Response, error) {
	o := applyOptions(opts)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(messages)),
	}
	for _, msg := range messages {
		params.Messages = append(params.Messages, convertAnthropicMessage(msg))
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(p.config.Temperature)
	}
	for _, tool := range tools {
		params.Tools = append(params.Tools, convertAnthropicTool(tool))
	}
	if o.ToolChoice != "" {
		params.ToolChoice = anthropic.ToolChoiceParamOfTool(o.ToolChoice)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}
	return convertAnthropicResponse(resp), nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Model() string {
	return p.config.Model
}

func convertAnthropicMessage(msg Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResult)+1+len(msg.ToolUse))

	for _, result := range msg.ToolResult {
		blocks = append(blocks, anthropic.NewToolResultBlock(result.ToolUseID, result.Content, result.IsError))
	}
	// Text next to tool results is rejected by the API.
	if msg.Content != "" && len(msg.ToolResult) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	for _, use := range msg.ToolUse {
		blocks = append(blocks, anthropic.NewToolUseBlock(use.ID, use.Input, use.Name))
	}

	if msg.Role == RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func convertAnthropicTool(tool ToolDefinition) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.InputSchema["properties"],
				Required:   requiredFields(tool.InputSchema),
			},
		},
	}
}

func convertAnthropicResponse(resp *anthropic.Message) *Response {
	response := &Response{
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	var text []string
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			response.ToolCalls = append(response.ToolCalls, ToolUseBlock{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	response.Content = strings.Join(text, "")

	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		response.StopReason = StopReasonToolUse
	case anthropic.StopReasonMaxTokens:
		response.StopReason = StopReasonMaxTokens
	default:
		response.StopReason = StopReasonEndTurn
	}
	return response
}
