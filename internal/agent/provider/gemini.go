package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider on the Google Gen AI SDK.
type GeminiProvider struct {
	client *genai.Client
	config Config
}

// NewGeminiProvider creates a provider. Without an explicit key the SDK
// reads GEMINI_API_KEY or GOOGLE_API_KEY.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, config: cfg}, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, opts ...ChatOption) (*Response, error) {
	cfg := buildGeminiConfig(systemPrompt, tools, applyOptions(opts), p.config)

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, convertGeminiMessages(messages), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return convertGeminiResponse(resp), nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Model() string {
	return p.config.Model
}

func buildGeminiConfig(systemPrompt string, tools []ToolDefinition, o ChatOptions, c Config) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.MaxTokens),
		Temperature:     genai.Ptr(float32(c.Temperature)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if o.ToolChoice != "" {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{o.ToolChoice},
			},
		}
	}
	return cfg
}

func convertGeminiMessages(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := string(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		content := &genai.Content{Role: role}

		if msg.Content != "" && len(msg.ToolResult) == 0 {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, use := range msg.ToolUse {
			var args map[string]any
			if len(use.Input) > 0 {
				_ = json.Unmarshal(use.Input, &args)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: use.ID, Name: use.Name, Args: args},
			})
		}
		for _, result := range msg.ToolResult {
			key := "output"
			if result.IsError {
				key = "error"
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       result.ToolUseID,
					Name:     result.Name,
					Response: map[string]any{key: result.Content},
				},
			})
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) *Response {
	response := &Response{StopReason: StopReasonEndTurn}
	if resp.UsageMetadata != nil {
		response.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return response
	}

	candidate := resp.Candidates[0]
	var text []string
	for i, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text = append(text, part.Text)
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			input, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				input = json.RawMessage(`{}`)
			}
			response.ToolCalls = append(response.ToolCalls, ToolUseBlock{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		}
	}
	response.Content = strings.Join(text, "")

	switch {
	case len(response.ToolCalls) > 0:
		response.StopReason = StopReasonToolUse
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		response.StopReason = StopReasonMaxTokens
	}
	return response
}
