package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateResultLeavesSmallDataAlone(t *testing.T) {
	assert.Nil(t, truncateResult(nil, MaxToolResponseBytes))

	noData := &Result{Success: true, Summary: "test"}
	assert.Same(t, noData, truncateResult(noData, MaxToolResponseBytes))

	small := &Result{Success: true, Data: map[string]string{"key": "value"}}
	assert.Same(t, small, truncateResult(small, MaxToolResponseBytes))
}

func TestTruncateResultLargeData(t *testing.T) {
	original := &Result{
		Success:         false,
		Data:            map[string]string{"large": strings.Repeat("x", 2000)},
		Error:           "partial failure",
		ExecutionTimeMs: 100,
	}

	result := truncateResult(original, 1024)
	require.NotSame(t, original, result)
	assert.False(t, result.Success)
	assert.Equal(t, "partial failure", result.Error)
	assert.Equal(t, int64(100), result.ExecutionTimeMs)
	assert.Contains(t, result.Summary, "TRUNCATED")

	truncated, ok := result.Data.(*truncatedData)
	require.True(t, ok)
	assert.True(t, truncated.Truncated)
	assert.Greater(t, truncated.OriginalBytes, 1024)
	assert.Len(t, truncated.PartialData, 1024*80/100)
}

func TestRegistrySubsetSkipsUnknown(t *testing.T) {
	r := NewRegistry(
		NewMockTool("list_problems", "problems", nil),
		NewMockTool("execute_dql", "dql", nil),
		NewMockTool(DocumentationToolName, "docs", nil),
	)

	sub := r.Subset("execute_dql", "does_not_exist", DocumentationToolName)
	assert.Equal(t, []string{DocumentationToolName, "execute_dql"}, sub.Names())
	assert.Equal(t, 3, r.Len(), "subset does not modify the parent")

	defs := sub.ToProviderTools()
	require.Len(t, defs, 2)
	assert.Equal(t, DocumentationToolName, defs[0].Name)
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(
		NewMockTool("list_problems", "problems", &Result{Success: true, Data: "[]"}),
		NewFailingMockTool("execute_dql", errors.New("upstream 503")),
	)
	ctx := context.Background()

	res := r.Execute(ctx, "list_problems", json.RawMessage(`{}`))
	assert.True(t, res.Success)
	assert.Equal(t, "[]", res.Content())

	res = r.Execute(ctx, "execute_dql", json.RawMessage(`{}`))
	assert.False(t, res.Success)
	assert.Equal(t, "error: upstream 503", res.Content())

	res = r.Execute(ctx, "get_problem_details", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not available")
}

func TestResultContent(t *testing.T) {
	assert.Equal(t, "summary only", (&Result{Success: true, Summary: "summary only"}).Content())
	assert.Equal(t, `{"a":1}`, (&Result{Success: true, Data: map[string]int{"a": 1}}).Content())
}

type fakeCaller struct {
	name string
	args map[string]interface{}
	out  string
	err  error
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	f.name, f.args = name, args
	return f.out, f.err
}

func TestRemoteTool(t *testing.T) {
	caller := &fakeCaller{out: `{"records":[]}`}
	tool := NewRemoteTool(caller, "execute_dql", "Run DQL", nil)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"dqlStatement":"fetch logs | limit 10"}`))
	require.NoError(t, err)
	assert.Equal(t, "execute_dql", caller.name)
	assert.Equal(t, "fetch logs | limit 10", caller.args["dqlStatement"])
	assert.Equal(t, `{"records":[]}`, res.Content())
	assert.Equal(t, "object", tool.InputSchema()["type"])

	_, err = tool.Execute(context.Background(), json.RawMessage(`not json`))
	assert.Error(t, err)

	caller.err = errors.New("boom")
	_, err = tool.Execute(context.Background(), nil)
	assert.EqualError(t, err, "boom")
}

type fakeSearcher struct {
	query, topic string
	snippets     []Snippet
}

func (f *fakeSearcher) Search(ctx context.Context, query, topic string) ([]Snippet, error) {
	f.query, f.topic = query, topic
	return f.snippets, nil
}

func TestDocumentationTool(t *testing.T) {
	s := &fakeSearcher{snippets: []Snippet{
		{Text: "fetch logs | filter loglevel == \"ERROR\"", Source: "reference/dql.md"},
		{Text: "Use list_problems first.", Source: "workflows/problems.md"},
	}}
	tool := NewDocumentationTool(s)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"error logs","topic":"reference"}`))
	require.NoError(t, err)
	assert.Equal(t, "error logs", s.query)
	assert.Equal(t, "reference", s.topic)
	assert.True(t, strings.HasPrefix(res.Content(), "[1] reference/dql.md\n"))
	assert.Contains(t, res.Content(), "[2] workflows/problems.md")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`))
	assert.Error(t, err)

	s.snippets = nil
	res, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	require.NoError(t, err)
	assert.Equal(t, "No matching documentation found.", res.Content())
}
