// Package tools provides the tool registry handed to workers: remote
// observability tools from the gateway plus the documentation lookup.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/logging"
)

const (
	// MaxToolResponseBytes caps a tool response (~12,500 tokens at 4
	// chars/token). Larger responses are truncated.
	MaxToolResponseBytes = 50 * 1024
)

// truncatedData replaces Data when the output exceeds the limit.
type truncatedData struct {
	Truncated      bool   `json:"_truncated"`
	OriginalBytes  int    `json:"_original_bytes"`
	TruncatedBytes int    `json:"_truncated_bytes"`
	TruncationNote string `json:"_truncation_note"`
	PartialData    string `json:"partial_data"`
}

func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil || len(dataBytes) <= maxBytes {
		return result
	}

	// Keep the first 80% of the budget as a partial payload.
	partial := string(dataBytes)
	if keep := maxBytes * 80 / 100; len(partial) > keep {
		partial = partial[:keep]
	}

	summary := fmt.Sprintf("[TRUNCATED: %d→%d bytes]", len(dataBytes), maxBytes)
	if result.Summary != "" {
		summary = result.Summary + " " + summary
	}

	return &Result{
		Success: result.Success,
		Data: &truncatedData{
			Truncated:      true,
			OriginalBytes:  len(dataBytes),
			TruncatedBytes: maxBytes,
			TruncationNote: fmt.Sprintf("Response truncated from %d to ~%d bytes. Narrow the query (shorter timeframe, filters, limit) to get complete results.", len(dataBytes), maxBytes),
			PartialData:    partial,
		},
		Error:           result.Error,
		Summary:         summary,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}

// Tool defines the interface for agent tools.
type Tool interface {
	Name() string

	// Description is shown to the model.
	Description() string

	// InputSchema returns the JSON Schema of the input object.
	InputSchema() map[string]interface{}

	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result represents the output of a tool execution.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Summary is a short description for logs and the audit trail.
	Summary         string `json:"summary,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

// Content renders the result as the text handed back to the model.
func (r *Result) Content() string {
	if !r.Success {
		return "error: " + r.Error
	}
	switch d := r.Data.(type) {
	case nil:
		return r.Summary
	case string:
		return d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return r.Summary
		}
		return string(b)
	}
}

// Registry manages tool registration and discovery.
type Registry struct {
	tools  map[string]Tool
	mu     sync.RWMutex
	logger *logging.Logger
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: logging.GetLogger("tools"),
	}
	for _, t := range tools {
		r.register(t)
	}
	return r
}

func (r *Registry) register(tool Tool) {
	r.tools[tool.Name()] = tool
	r.logger.Debug("registered tool %s", tool.Name())
}

// Register adds a tool, replacing one with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(tool)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name()
	}
	return names
}

// Subset returns a registry holding only the named tools. Names that are
// not registered are skipped.
func (r *Registry) Subset(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := &Registry{tools: make(map[string]Tool, len(names)), logger: r.logger}
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			r.logger.Debug("tool %s not available, skipping", name)
			continue
		}
		sub.tools[name] = tool
	}
	return sub
}

// ToProviderTools converts registry tools to provider tool definitions,
// sorted by name so prompts are stable.
func (r *Registry) ToProviderTools() []provider.ToolDefinition {
	list := r.List()
	defs := make([]provider.ToolDefinition, 0, len(list))
	for _, tool := range list {
		defs = append(defs, provider.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// Execute runs a tool by name. Failures are reported in the Result rather
// than as a Go error so they can be shown to the model.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("tool %q not available", name),
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return &Result{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}
	if result == nil {
		result = &Result{Success: true}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	return truncateResult(result, MaxToolResponseBytes)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
