package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AzureFoundryProvider talks to Anthropic models hosted on Azure AI Foundry.
// The endpoint speaks the Anthropic Messages API under /anthropic and
// authenticates with the x-api-key header.
type AzureFoundryProvider struct {
	client   *http.Client
	config   AzureFoundryConfig
	endpoint string
}

// AzureFoundryConfig contains configuration for Azure AI Foundry.
type AzureFoundryConfig struct {
	// Endpoint has the form https://{resource}.services.ai.azure.com
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultAzureFoundryConfig returns sensible defaults for Azure AI Foundry.
func DefaultAzureFoundryConfig() AzureFoundryConfig {
	return AzureFoundryConfig{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 4096,
		Timeout:   120 * time.Second,
	}
}

func NewAzureFoundryProvider(cfg AzureFoundryConfig) (*AzureFoundryProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure AI Foundry endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure AI Foundry API key is required")
	}

	defaults := DefaultAzureFoundryConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if !strings.HasSuffix(endpoint, "/anthropic") {
		endpoint += "/anthropic"
	}

	return &AzureFoundryProvider{
		client:   &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
		endpoint: endpoint,
	}, nil
}

func (p *AzureFoundryProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, opts ...ChatOption) (*Response, error) {
	body, err := json.Marshal(p.buildRequest(systemPrompt, messages, tools, applyOptions(opts)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAzureError(resp.StatusCode, respBody)
	}
	return parseAzureResponse(respBody)
}

func (p *AzureFoundryProvider) Name() string {
	return "azure-foundry"
}

func (p *AzureFoundryProvider) Model() string {
	return p.config.Model
}

type azureRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	Messages    []azureMessage   `json:"messages"`
	System      []azureTextBlock `json:"system,omitempty"`
	Tools       []azureTool      `json:"tools,omitempty"`
	ToolChoice  *azureToolChoice `json:"tool_choice,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

type azureToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type azureMessage struct {
	Role    string             `json:"role"`
	Content []azureContentPart `json:"content"`
}

type azureContentPart struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type azureTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type azureTool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema azureInputSchema `json:"input_schema"`
}

type azureInputSchema struct {
	Type       string      `json:"type"`
	Properties interface{} `json:"properties,omitempty"`
	Required   []string    `json:"required,omitempty"`
}

type azureResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	Usage Usage `json:"usage"`
}

type azureErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AzureFoundryProvider) buildRequest(systemPrompt string, messages []Message, tools []ToolDefinition, o ChatOptions) azureRequest {
	req := azureRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	if systemPrompt != "" {
		req.System = []azureTextBlock{{Type: "text", Text: systemPrompt}}
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, convertAzureMessage(msg))
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, azureTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: azureInputSchema{
				Type:       "object",
				Properties: tool.InputSchema["properties"],
				Required:   requiredFields(tool.InputSchema),
			},
		})
	}
	if o.ToolChoice != "" {
		req.ToolChoice = &azureToolChoice{Type: "tool", Name: o.ToolChoice}
	}
	return req
}

func convertAzureMessage(msg Message) azureMessage {
	out := azureMessage{Role: string(msg.Role)}

	for _, result := range msg.ToolResult {
		out.Content = append(out.Content, azureContentPart{
			Type:      "tool_result",
			ToolUseID: result.ToolUseID,
			Content:   result.Content,
			IsError:   result.IsError,
		})
	}
	if msg.Content != "" && len(msg.ToolResult) == 0 {
		out.Content = append(out.Content, azureContentPart{Type: "text", Text: msg.Content})
	}
	for _, use := range msg.ToolUse {
		out.Content = append(out.Content, azureContentPart{
			Type:  "tool_use",
			ID:    use.ID,
			Name:  use.Name,
			Input: use.Input,
		})
	}
	return out
}

func parseAzureResponse(body []byte) (*Response, error) {
	var azureResp azureResponse
	if err := json.Unmarshal(body, &azureResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	response := &Response{Usage: azureResp.Usage}
	var text []string
	for _, block := range azureResp.Content {
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

	switch azureResp.StopReason {
	case "tool_use":
		response.StopReason = StopReasonToolUse
	case "max_tokens":
		response.StopReason = StopReasonMaxTokens
	default:
		response.StopReason = StopReasonEndTurn
	}
	return response, nil
}

func parseAzureError(statusCode int, body []byte) error {
	var errResp azureErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return fmt.Errorf("azure AI Foundry API error (status %d): %s", statusCode, string(body))
	}
	return fmt.Errorf("azure AI Foundry API error (status %d, type: %s): %s",
		statusCode, errResp.Error.Type, errResp.Error.Message)
}
