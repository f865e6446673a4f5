package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/agent/tools"
)

func testRegistry() *tools.Registry {
	return tools.NewRegistry(
		tools.NewMockTool("list_problems", "List problems", &tools.Result{Success: true, Data: "P-2410231 OPEN checkout-service", Summary: "1 problem"}),
		tools.NewMockTool("execute_dql", "Execute DQL", &tools.Result{Success: true, Data: "3 records", Summary: "3 records"}),
		tools.NewMockTool(tools.DocumentationToolName, "Docs", &tools.Result{Success: true, Data: "problems have an id and a status", Summary: "1 snippet"}),
	)
}

var fetcherSpec = Spec{
	Name:   "problems_fetcher",
	Domain: "problems",
	Prompt: "You fetch problems.",
	Tools:  []string{"list_problems", tools.DocumentationToolName},
	Role:   RoleFetcher,
}

var analystSpec = Spec{
	Name:      "problems_analyst",
	Domain:    "problems",
	Prompt:    "You analyze problems.",
	Tools:     []string{tools.DocumentationToolName, "execute_dql"},
	Role:      RoleAnalyst,
	InputFrom: "problems_fetcher",
}

func request(text string) []state.Message {
	return []state.Message{state.UserMessage(text)}
}

func TestFetcherRunsToolsUntilFinalText(t *testing.T) {
	p := provider.NewScriptedProvider("mock",
		provider.ScriptStep{ToolCalls: []provider.ScriptToolCall{{Name: "list_problems", Args: map[string]interface{}{"status": "OPEN"}}}},
		provider.ScriptStep{Trigger: "contains:P-2410231", Text: "One open problem: P-2410231 on checkout-service."},
	)
	r := NewRunner(p, testRegistry(), Config{MaxToolRounds: 6, MaxDocLookups: 2})

	msg, err := r.Run(context.Background(), fetcherSpec, request("show open problems"))
	require.NoError(t, err)
	assert.Equal(t, state.RoleAssistant, msg.Role)
	assert.Equal(t, "problems_fetcher", msg.Originator)
	assert.Equal(t, "One open problem: P-2410231 on checkout-service.", msg.Content)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{tools.DocumentationToolName, "list_problems"}, calls[0].Tools)
	assert.Equal(t, "You fetch problems.", calls[0].System)

	last := calls[1].Messages[len(calls[1].Messages)-1]
	require.Len(t, last.ToolResult, 1)
	assert.Equal(t, "list_problems", last.ToolResult[0].Name)
	assert.False(t, last.ToolResult[0].IsError)
}

func TestFetcherRetriesOnceThenReportsNoData(t *testing.T) {
	t.Run("retry succeeds", func(t *testing.T) {
		p := provider.NewScriptedProvider("mock",
			provider.ScriptStep{Error: "upstream 503"},
			provider.ScriptStep{Text: "No open problems in the last 2 hours."},
		)
		msg, err := NewRunner(p, testRegistry(), Config{}).Run(context.Background(), fetcherSpec, request("problems?"))
		require.NoError(t, err)
		assert.Equal(t, "No open problems in the last 2 hours.", msg.Content)
	})

	t.Run("retry fails", func(t *testing.T) {
		p := provider.NewScriptedProvider("mock",
			provider.ScriptStep{Error: "upstream 503"},
			provider.ScriptStep{Error: "upstream 503"},
			provider.ScriptStep{Text: "never reached"},
		)
		msg, err := NewRunner(p, testRegistry(), Config{}).Run(context.Background(), fetcherSpec, request("problems?"))
		require.NoError(t, err)
		assert.Equal(t, "No data found: upstream 503.", msg.Content)
		assert.Equal(t, 1, p.Remaining())
	})
}

func TestFetcherToolBudget(t *testing.T) {
	loop := provider.ScriptStep{ToolCalls: []provider.ScriptToolCall{{Name: "list_problems"}}}
	p := provider.NewScriptedProvider("mock", loop, loop, loop)

	msg, err := NewRunner(p, testRegistry(), Config{MaxToolRounds: 2}).Run(context.Background(), fetcherSpec, request("problems?"))
	require.NoError(t, err)
	assert.Equal(t, "No data found: tool budget of 2 rounds exhausted.", msg.Content)
	assert.Len(t, p.Calls(), 3)
}

func TestFetcherEmptyAnswer(t *testing.T) {
	p := provider.NewScriptedProvider("mock", provider.ScriptStep{Text: "  "})
	msg, err := NewRunner(p, testRegistry(), Config{}).Run(context.Background(), fetcherSpec, request("problems?"))
	require.NoError(t, err)
	assert.Equal(t, "No data found: the model returned an empty answer.", msg.Content)
}

func TestAnalystWithoutFetcherInput(t *testing.T) {
	tests := []struct {
		name    string
		history []state.Message
	}{
		{name: "no fetcher message", history: request("analyze problems")},
		{name: "blank fetcher message", history: append(request("analyze problems"), state.AgentMessage("problems_fetcher", "   "))},
		{name: "only other workers", history: append(request("analyze problems"), state.AgentMessage("security_fetcher", "CVE list"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := provider.NewScriptedProvider("mock")
			msg, err := NewRunner(p, testRegistry(), Config{MaxDocLookups: 2}).Run(context.Background(), analystSpec, tt.history)
			require.NoError(t, err)
			assert.Equal(t, NoFetcherInput, msg.Content)
			assert.Equal(t, "problems_analyst", msg.Originator)
			assert.Empty(t, p.Calls(), "no model call without input")
		})
	}
}

func TestAnalystOnlyGetsDocumentationTools(t *testing.T) {
	p := provider.NewScriptedProvider("mock",
		provider.ScriptStep{ToolCalls: []provider.ScriptToolCall{{Name: "execute_dql", Args: map[string]interface{}{"dqlStatement": "fetch logs"}}}},
		provider.ScriptStep{Text: "checkout-service is failing because payment-gateway times out."},
	)
	history := append(request("why is checkout failing?"), state.AgentMessage("problems_fetcher", "P-2410231 OPEN checkout-service"))

	msg, err := NewRunner(p, testRegistry(), Config{MaxDocLookups: 2}).Run(context.Background(), analystSpec, history)
	require.NoError(t, err)
	assert.Equal(t, "checkout-service is failing because payment-gateway times out.", msg.Content)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{tools.DocumentationToolName}, calls[0].Tools)

	results := calls[1].Messages[len(calls[1].Messages)-1].ToolResult
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "not available to problems_analyst")
}

func TestAnalystDocumentationLookupLimit(t *testing.T) {
	doc := provider.ScriptToolCall{Name: tools.DocumentationToolName, Args: map[string]interface{}{"query": "problem status"}}
	p := provider.NewScriptedProvider("mock",
		provider.ScriptStep{ToolCalls: []provider.ScriptToolCall{doc, doc}},
		provider.ScriptStep{Text: "The problem is open."},
	)
	history := append(request("status?"), state.AgentMessage("problems_fetcher", "P-2410231 OPEN"))

	msg, err := NewRunner(p, testRegistry(), Config{MaxDocLookups: 1}).Run(context.Background(), analystSpec, history)
	require.NoError(t, err)
	assert.Equal(t, "The problem is open.", msg.Content)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[1].Tools, "tools are withdrawn once the lookup budget is spent")

	results := calls[1].Messages[len(calls[1].Messages)-1].ToolResult
	require.Len(t, results, 2)
	assert.False(t, results[0].IsError)
	assert.True(t, results[1].IsError)
}

func TestAnalystDocumentationLookupDefaults(t *testing.T) {
	doc := provider.ScriptToolCall{Name: tools.DocumentationToolName, Args: map[string]interface{}{"query": "problem status"}}
	history := append(request("status?"), state.AgentMessage("problems_fetcher", "P-2410231 OPEN"))

	// A zero Config allows DefaultMaxDocLookups lookups.
	p := provider.NewScriptedProvider("mock",
		provider.ScriptStep{ToolCalls: []provider.ScriptToolCall{doc}},
		provider.ScriptStep{ToolCalls: []provider.ScriptToolCall{doc}},
		provider.ScriptStep{Text: "The problem is open."},
	)
	msg, err := NewRunner(p, testRegistry(), Config{}).Run(context.Background(), analystSpec, history)
	require.NoError(t, err)
	assert.Equal(t, "The problem is open.", msg.Content)

	calls := p.Calls()
	require.Len(t, calls, DefaultMaxDocLookups+1)
	assert.Equal(t, []string{tools.DocumentationToolName}, calls[1].Tools)
	assert.Empty(t, calls[2].Tools)

	// NoDocLookups withholds the tools from the first call.
	p = provider.NewScriptedProvider("mock", provider.ScriptStep{Text: "The problem is open."})
	_, err = NewRunner(p, testRegistry(), Config{MaxDocLookups: NoDocLookups}).Run(context.Background(), analystSpec, history)
	require.NoError(t, err)
	require.Len(t, p.Calls(), 1)
	assert.Empty(t, p.Calls()[0].Tools)
}

func TestAnalystFailureAfterRetry(t *testing.T) {
	p := provider.NewScriptedProvider("mock",
		provider.ScriptStep{Error: "rate limited"},
		provider.ScriptStep{Error: "rate limited"},
	)
	history := append(request("status?"), state.AgentMessage("problems_fetcher", "P-2410231 OPEN"))

	msg, err := NewRunner(p, testRegistry(), Config{MaxDocLookups: 2}).Run(context.Background(), analystSpec, history)
	require.NoError(t, err)
	assert.Equal(t, "No response from analyst: rate limited.", msg.Content)
}

func TestRunReturnsErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := provider.NewScriptedProvider("mock", provider.ScriptStep{DelayMs: 1000, Text: "late"})
	_, err := NewRunner(p, testRegistry(), Config{}).Run(ctx, fetcherSpec, request("problems?"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranscript(t *testing.T) {
	history := []state.Message{
		state.UserMessage("list problems"),
		state.AgentMessage("problems_fetcher", "P-1 OPEN"),
		state.AgentMessage("problems_analyst", "P-1 is a failure rate increase"),
		{Role: state.RoleTool, Content: "raw tool output"},
		state.UserMessage("and vulnerabilities?"),
	}

	msgs := Transcript(history, "")
	require.Len(t, msgs, 1, "everything is user input for a worker")
	assert.Equal(t, provider.RoleUser, msgs[0].Role)
	assert.Equal(t, "list problems\n\n[problems_fetcher]:\nP-1 OPEN\n\n[problems_analyst]:\nP-1 is a failure rate increase\n\nand vulnerabilities?", msgs[0].Content)

	msgs = Transcript(history, "problems_analyst")
	require.Len(t, msgs, 3)
	assert.Equal(t, provider.RoleUser, msgs[0].Role)
	assert.Equal(t, provider.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "P-1 is a failure rate increase", msgs[1].Content)
	assert.Equal(t, provider.RoleUser, msgs[2].Role)

	msgs = Transcript([]state.Message{state.AgentMessage("me", "hello")}, "me")
	require.Len(t, msgs, 2)
	assert.Equal(t, provider.RoleUser, msgs[0].Role)
}
