// Package worker runs a single fetcher or analyst step: an LLM loop with a
// bounded set of tools that ends in exactly one attributed message.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/moolen/lookout/internal/agent/audit"
	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/metrics"
	"github.com/moolen/lookout/internal/tracing"
)

// Role distinguishes data gathering from interpretation.
type Role string

const (
	RoleFetcher Role = "fetcher"
	RoleAnalyst Role = "analyst"
)

// NoFetcherInput is the analyst reply when there is nothing to analyze.
const NoFetcherInput = "No input provided by Fetcher."

const (
	DefaultMaxToolRounds = 6
	DefaultMaxDocLookups = 2
)

// Spec describes a worker. It is fixed at graph build time.
type Spec struct {
	Name   string
	Domain string
	Prompt string
	// Tools names the registry tools handed to the model. Analysts only
	// ever receive documentation tools, whatever is listed here.
	Tools []string
	Role  Role
	// InputFrom names the worker whose output an analyst consumes. Empty
	// means the latest message from any other agent.
	InputFrom string
}

// Config bounds the tool loop. Zero values select the defaults; set
// MaxDocLookups to NoDocLookups to give analysts no lookups at all.
type Config struct {
	MaxToolRounds int
	MaxDocLookups int
}

// NoDocLookups disables documentation lookups for analysts.
const NoDocLookups = -1

// Runner executes worker specs against a provider and a tool registry.
type Runner struct {
	provider provider.Provider
	registry *tools.Registry
	cfg      Config
	audit    *audit.Logger
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

type Option func(*Runner)

func WithAudit(l *audit.Logger) Option {
	return func(r *Runner) { r.audit = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(p provider.Provider, registry *tools.Registry, cfg Config, opts ...Option) *Runner {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	switch {
	case cfg.MaxDocLookups == 0:
		cfg.MaxDocLookups = DefaultMaxDocLookups
	case cfg.MaxDocLookups < 0:
		cfg.MaxDocLookups = 0
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	r := &Runner{
		provider: p,
		registry: registry,
		cfg:      cfg,
		logger:   logging.GetLogger("worker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one worker step over history and returns the single message
// it contributes. Upstream failures are folded into the message text; the
// returned error is only set when ctx is done.
func (r *Runner) Run(ctx context.Context, spec Spec, history []state.Message) (msg state.Message, err error) {
	ctx, span := tracing.StartSpan(ctx, "worker.run",
		attribute.String("worker", spec.Name),
		attribute.String("role", string(spec.Role)))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	var content string
	switch spec.Role {
	case RoleAnalyst:
		content, err = r.runAnalyst(ctx, spec, history)
	default:
		content, err = r.runFetcher(ctx, spec, history)
	}
	if err != nil {
		return state.Message{}, err
	}

	r.logger.DebugWithFields("worker finished",
		logging.Field("worker", spec.Name),
		logging.Field("duration_ms", time.Since(start).Milliseconds()))
	return state.AgentMessage(spec.Name, content), nil
}

func (r *Runner) runFetcher(ctx context.Context, spec Spec, history []state.Message) (string, error) {
	toolset := r.registry.Subset(spec.Tools...)
	msgs := Transcript(history, "")
	defs := toolset.ToProviderTools()

	for round := 0; ; round++ {
		resp, err := r.chat(ctx, spec, msgs, defs)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return noData(err.Error()), nil
		}
		if len(resp.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				return noData("the model returned an empty answer"), nil
			}
			return text, nil
		}
		if round >= r.cfg.MaxToolRounds {
			return noData(fmt.Sprintf("tool budget of %d rounds exhausted", r.cfg.MaxToolRounds)), nil
		}
		msgs = append(msgs,
			provider.Message{Role: provider.RoleAssistant, Content: resp.Content, ToolUse: resp.ToolCalls},
			provider.Message{Role: provider.RoleUser, ToolResult: r.executeAll(ctx, spec, toolset, resp.ToolCalls, nil)})
	}
}

func (r *Runner) runAnalyst(ctx context.Context, spec Spec, history []state.Message) (string, error) {
	if !hasFetcherInput(spec, history) {
		r.logger.Debug("%s has no fetcher input", spec.Name)
		return NoFetcherInput, nil
	}

	toolset := r.registry.Subset(analystTools(spec.Tools)...)
	msgs := Transcript(history, "")
	defs := toolset.ToProviderTools()
	lookups := 0

	for {
		if lookups >= r.cfg.MaxDocLookups {
			defs = nil
		}
		resp, err := r.chat(ctx, spec, msgs, defs)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return noResponse(err.Error()), nil
		}
		if len(resp.ToolCalls) == 0 || defs == nil {
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				return noResponse("the model returned an empty answer"), nil
			}
			return text, nil
		}
		msgs = append(msgs,
			provider.Message{Role: provider.RoleAssistant, Content: resp.Content, ToolUse: resp.ToolCalls},
			provider.Message{Role: provider.RoleUser, ToolResult: r.executeAll(ctx, spec, toolset, resp.ToolCalls, &lookups)})
	}
}

// chat calls the provider, retrying once on failure.
func (r *Runner) chat(ctx context.Context, spec Spec, msgs []provider.Message, defs []provider.ToolDefinition) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.provider.Chat(ctx, spec.Prompt, msgs, defs)
		if err == nil {
			r.metrics.RecordLLMCall(r.provider.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
			_ = r.audit.LogLLMRequest(spec.Name, r.provider.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens, string(resp.StopReason))
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		r.logger.WarnWithFields("model call failed",
			logging.Field("worker", spec.Name),
			logging.Field("attempt", attempt+1),
			logging.Field("error", err))
	}
	return nil, lastErr
}

// executeAll runs the calls of one model turn. When lookups is non-nil each
// call counts against MaxDocLookups and calls past the limit are refused.
func (r *Runner) executeAll(ctx context.Context, spec Spec, toolset *tools.Registry, calls []provider.ToolUseBlock, lookups *int) []provider.ToolResultBlock {
	results := make([]provider.ToolResultBlock, 0, len(calls))
	for _, call := range calls {
		block := provider.ToolResultBlock{ToolUseID: call.ID, Name: call.Name}

		if lookups != nil {
			if *lookups >= r.cfg.MaxDocLookups {
				block.Content = "error: documentation lookup limit reached, answer with what you have"
				block.IsError = true
				results = append(results, block)
				continue
			}
			*lookups++
		}

		result := r.execute(ctx, spec, toolset, call)
		block.Content = result.Content()
		block.IsError = !result.Success
		results = append(results, block)
	}
	return results
}

func (r *Runner) execute(ctx context.Context, spec Spec, toolset *tools.Registry, call provider.ToolUseBlock) *tools.Result {
	ctx, span := tracing.StartSpan(ctx, "tool.call",
		attribute.String("worker", spec.Name),
		attribute.String("tool", call.Name))

	_ = r.audit.LogToolCall(spec.Name, call.Name, call.Input)
	start := time.Now()

	var result *tools.Result
	if _, ok := toolset.Get(call.Name); !ok {
		result = &tools.Result{Error: fmt.Sprintf("tool %q is not available to %s", call.Name, spec.Name)}
	} else {
		result = toolset.Execute(ctx, call.Name, normalizeInput(call.Input))
	}

	duration := time.Since(start)
	r.metrics.RecordToolCall(call.Name, result.Success)
	_ = r.audit.LogToolResult(spec.Name, call.Name, result.Success, duration, resultSummary(result))

	var spanErr error
	if !result.Success {
		spanErr = errors.New(result.Error)
	}
	tracing.EndSpan(span, spanErr)

	r.logger.DebugWithFields("tool executed",
		logging.Field("worker", spec.Name),
		logging.Field("tool", call.Name),
		logging.Field("success", result.Success),
		logging.Field("duration_ms", duration.Milliseconds()))
	return result
}

func normalizeInput(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(`{}`)
	}
	return input
}

func resultSummary(result *tools.Result) string {
	if !result.Success {
		return result.Error
	}
	return result.Summary
}

// analystTools filters names down to documentation tools. An analyst with no
// listed tools still gets the documentation lookup.
func analystTools(names []string) []string {
	allowed := make(map[string]bool, len(tools.DocumentationTools))
	for _, n := range tools.DocumentationTools {
		allowed[n] = true
	}
	var out []string
	for _, n := range names {
		if allowed[n] {
			out = append(out, n)
		}
	}
	if len(names) == 0 {
		out = append(out, tools.DocumentationTools...)
	}
	return out
}

// hasFetcherInput reports whether history holds a non-blank message from
// the analyst's input worker.
func hasFetcherInput(spec Spec, history []state.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != state.RoleAssistant || m.Originator == "" || m.Originator == spec.Name {
			continue
		}
		if spec.InputFrom != "" && m.Originator != spec.InputFrom {
			continue
		}
		return strings.TrimSpace(m.Content) != ""
	}
	return false
}

func noData(reason string) string {
	return "No data found: " + strings.TrimRight(strings.TrimSpace(reason), ".") + "."
}

func noResponse(reason string) string {
	return "No response from analyst: " + strings.TrimRight(strings.TrimSpace(reason), ".") + "."
}
