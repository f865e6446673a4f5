package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoStructuredOutput is returned when the model answered without the
// forced tool call and the text carries no decodable JSON object either.
var ErrNoStructuredOutput = errors.New("model returned no structured output")

// Structured forces a call to tool and decodes its arguments into out.
// Models that ignore the forced choice and reply with a JSON object in
// plain text are accepted too.
func Structured(ctx context.Context, p Provider, systemPrompt string, messages []Message, tool ToolDefinition, out any) (*Response, error) {
	resp, err := p.Chat(ctx, systemPrompt, messages, []ToolDefinition{tool}, WithToolChoice(tool.Name))
	if err != nil {
		return nil, err
	}

	for _, call := range resp.ToolCalls {
		if call.Name != tool.Name {
			continue
		}
		if err := json.Unmarshal(call.Input, out); err != nil {
			return resp, fmt.Errorf("%w: %s arguments: %v", ErrNoStructuredOutput, tool.Name, err)
		}
		return resp, nil
	}

	if raw, ok := extractJSONObject(resp.Content); ok {
		if err := json.Unmarshal([]byte(raw), out); err == nil {
			return resp, nil
		}
	}
	return resp, ErrNoStructuredOutput
}

// extractJSONObject returns the outermost {...} span of s, tolerating code
// fences and surrounding prose.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
