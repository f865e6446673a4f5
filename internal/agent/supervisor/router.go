// Package supervisor implements the two routing levels: a domain supervisor
// that drives one fetcher and one analyst, and a top-level supervisor that
// consults domain teams and composes the reply.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/agent/worker"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/metrics"
	"github.com/moolen/lookout/internal/tracing"
)

// Finish ends the current supervision level.
const Finish = "FINISH"

// routeToolName is the forced tool carrying the decision record.
const routeToolName = "route"

var (
	// ErrInvalidDecision is returned when the model picks a name outside the
	// allowed options or produces no decision at all.
	ErrInvalidDecision = errors.New("invalid routing decision")

	// ErrRecursionLimit is returned when a turn exceeds its hop budget.
	ErrRecursionLimit = errors.New("recursion limit reached")
)

// Decision is one routing step.
type Decision struct {
	Next         string `json:"next"`
	FinalMessage string `json:"final_message,omitempty"`
}

func (d Decision) IsFinish() bool {
	return d.Next == Finish
}

// Router asks the model for structured routing decisions.
type Router struct {
	provider provider.Provider
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

func NewRouter(p provider.Provider, m *metrics.Metrics) *Router {
	return &Router{provider: p, metrics: m, logger: logging.GetLogger("supervisor")}
}

// Decide makes one routing call for supervisor name. The model must answer
// with one of options or Finish; withFinal adds a final_message field for
// the top level. Upstream failures are retried once.
func (r *Router) Decide(ctx context.Context, name, systemPrompt string, history []state.Message, options []string, withFinal bool) (d Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "supervisor.decide", attribute.String("supervisor", name))
	defer func() {
		span.SetAttributes(attribute.String("next", d.Next))
		tracing.EndSpan(span, err)
	}()

	allowed := append(slices.Clone(options), Finish)
	tool := routeTool(allowed, withFinal)
	msgs := withInstruction(worker.Transcript(history, name), allowed)

	for attempt := 0; attempt < 2; attempt++ {
		var resp *provider.Response
		d = Decision{}
		resp, err = provider.Structured(ctx, r.provider, systemPrompt, msgs, tool, &d)
		if resp != nil {
			r.metrics.RecordLLMCall(r.provider.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		if err == nil || errors.Is(err, provider.ErrNoStructuredOutput) || ctx.Err() != nil {
			break
		}
		r.logger.WarnWithFields("routing call failed",
			logging.Field("supervisor", name),
			logging.Field("attempt", attempt+1),
			logging.Field("error", err))
	}
	if errors.Is(err, provider.ErrNoStructuredOutput) {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if err != nil {
		return Decision{}, err
	}

	d.Next = strings.TrimSpace(d.Next)
	if !slices.Contains(allowed, d.Next) {
		return Decision{}, fmt.Errorf("%w: %q is not one of %v", ErrInvalidDecision, d.Next, allowed)
	}
	d.FinalMessage = strings.TrimSpace(d.FinalMessage)
	r.metrics.RecordRouting(name, d.Next)
	return d, nil
}

func routeTool(allowed []string, withFinal bool) provider.ToolDefinition {
	properties := map[string]interface{}{
		"next": map[string]interface{}{
			"type":        "string",
			"enum":        allowed,
			"description": "The worker to act next, or FINISH when done.",
		},
	}
	required := []string{"next"}
	if withFinal {
		properties["final_message"] = map[string]interface{}{
			"type":        "string",
			"description": "Reply to the user. Required when next is FINISH.",
		}
		required = append(required, "final_message")
	}
	return provider.ToolDefinition{
		Name:        routeToolName,
		Description: "Select the next worker or FINISH.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// withInstruction appends the routing question to the last user turn.
func withInstruction(msgs []provider.Message, allowed []string) []provider.Message {
	instruction := fmt.Sprintf("Given the conversation above, who should act next? Or should we FINISH? Select one of: %s",
		strings.Join(allowed, ", "))
	if n := len(msgs); n > 0 && msgs[n-1].Role == provider.RoleUser {
		msgs[n-1].Content += "\n\n" + instruction
		return msgs
	}
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: instruction})
}
