package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrScriptExhausted is returned when no remaining step matches a request.
var ErrScriptExhausted = errors.New("scripted provider has no matching step")

// Script is a sequence of canned model replies loaded from YAML. It backs
// the mock:<file> model and the agent tests.
type Script struct {
	Name  string       `yaml:"name"`
	Steps []ScriptStep `yaml:"steps"`
}

// ScriptStep is one reply. Steps are consumed in order; a step is used by
// the first request its Trigger matches.
//
// Trigger forms:
//   - "" matches any request
//   - "system:<text>" matches when the system prompt contains text
//   - "contains:<text>" matches when any message contains text
//   - "tool_choice:<name>" matches when the request forces tool name
type ScriptStep struct {
	Trigger   string           `yaml:"trigger,omitempty"`
	Text      string           `yaml:"text,omitempty"`
	ToolCalls []ScriptToolCall `yaml:"tool_calls,omitempty"`
	// Error makes the step fail with this message instead of replying.
	Error   string `yaml:"error,omitempty"`
	DelayMs int    `yaml:"delay_ms,omitempty"`
}

// ScriptToolCall is a tool call emitted by a step.
type ScriptToolCall struct {
	Name string                 `yaml:"name"`
	Args map[string]interface{} `yaml:"args"`
}

// RecordedCall captures a request seen by ScriptedProvider.
type RecordedCall struct {
	System     string
	Messages   []Message
	Tools      []string
	ToolChoice string
}

// ScriptedProvider replays a Script.
type ScriptedProvider struct {
	model string

	mu    sync.Mutex
	steps []ScriptStep
	used  []bool
	calls []RecordedCall
	seq   int
}

// NewScriptedProvider returns a provider replaying steps.
func NewScriptedProvider(model string, steps ...ScriptStep) *ScriptedProvider {
	return &ScriptedProvider{
		model: model,
		steps: steps,
		used:  make([]bool, len(steps)),
	}
}

// LoadScript reads a script file. A leading ~ expands to the home dir.
func LoadScript(path string) (*Script, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	// #nosec G304 -- script path is user-provided on purpose
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script YAML: %w", err)
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &script, nil
}

// Validate checks that every step produces something.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("script must have at least one step")
	}
	for i, step := range s.Steps {
		if step.Text == "" && len(step.ToolCalls) == 0 && step.Error == "" {
			return fmt.Errorf("step[%d]: must have text, tool_calls or error", i)
		}
		for j, tc := range step.ToolCalls {
			if tc.Name == "" {
				return fmt.Errorf("step[%d].tool_calls[%d]: name is required", i, j)
			}
		}
	}
	return nil
}

func (p *ScriptedProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, opts ...ChatOption) (*Response, error) {
	o := applyOptions(opts)

	p.mu.Lock()
	call := RecordedCall{System: systemPrompt, Messages: append([]Message(nil), messages...), ToolChoice: o.ToolChoice}
	for _, t := range tools {
		call.Tools = append(call.Tools, t.Name)
	}
	p.calls = append(p.calls, call)

	idx := -1
	for i, step := range p.steps {
		if !p.used[i] && step.matches(call) {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	p.used[idx] = true
	step := p.steps[idx]
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	if step.DelayMs > 0 {
		select {
		case <-time.After(time.Duration(step.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Error != "" {
		return nil, errors.New(step.Error)
	}

	resp := &Response{
		Content:    step.Text,
		StopReason: StopReasonEndTurn,
		Usage:      Usage{InputTokens: len(systemPrompt) / 4, OutputTokens: len(step.Text) / 4},
	}
	for i, tc := range step.ToolCalls {
		input, err := json.Marshal(tc.Args)
		if err != nil || tc.Args == nil {
			input = json.RawMessage(`{}`)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolUseBlock{
			ID:    fmt.Sprintf("call_%d_%d", seq, i),
			Name:  tc.Name,
			Input: input,
		})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopReasonToolUse
	}
	return resp, nil
}

func (s ScriptStep) matches(call RecordedCall) bool {
	kind, value, _ := strings.Cut(s.Trigger, ":")
	switch kind {
	case "":
		return true
	case "system":
		return strings.Contains(call.System, value)
	case "tool_choice":
		return call.ToolChoice == value
	case "contains":
		for _, m := range call.Messages {
			if strings.Contains(m.Content, value) {
				return true
			}
			for _, r := range m.ToolResult {
				if strings.Contains(r.Content, value) {
					return true
				}
			}
		}
		return false
	default:
		return strings.Contains(call.System, s.Trigger)
	}
}

func (p *ScriptedProvider) Name() string {
	return "mock"
}

func (p *ScriptedProvider) Model() string {
	return p.model
}

// Calls returns every request seen so far.
func (p *ScriptedProvider) Calls() []RecordedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedCall(nil), p.calls...)
}

// Remaining returns how many steps were not consumed.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.used {
		if !u {
			n++
		}
	}
	return n
}
