package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *server.MCPServer {
	s := server.NewMCPServer("fake-dynatrace", "0.0.1", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_problems",
		mcp.WithDescription("List problems"),
		mcp.WithString("timeframe", mcp.Description("e.g. 24h")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		return mcp.NewToolResultText("problems for " + args["timeframe"].(string)), nil
	})

	s.AddTool(mcp.NewTool("execute_dql",
		mcp.WithDescription("Execute DQL"),
		mcp.WithString("dqlStatement", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("DQL syntax error at position 6"), nil
	})
	return s
}

func startGateway(t *testing.T) *Gateway {
	t.Helper()
	c, err := client.NewInProcessClient(newTestServer())
	require.NoError(t, err)

	g := NewWithClient(c)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(context.Background()) })
	return g
}

func TestGatewayListsRemoteTools(t *testing.T) {
	g := startGateway(t)

	reg := tools.NewRegistry(g.Tools()...)
	assert.Equal(t, []string{"execute_dql", "list_problems"}, reg.Names())

	tool, ok := reg.Get("execute_dql")
	require.True(t, ok)
	assert.Equal(t, "Execute DQL", tool.Description())
	assert.Equal(t, "object", tool.InputSchema()["type"])
	assert.Contains(t, tool.InputSchema()["required"], "dqlStatement")
}

func TestGatewayCallTool(t *testing.T) {
	g := startGateway(t)
	reg := tools.NewRegistry(g.Tools()...)
	ctx := context.Background()

	res := reg.Execute(ctx, "list_problems", json.RawMessage(`{"timeframe":"24h"}`))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "problems for 24h", res.Content())

	res = reg.Execute(ctx, "execute_dql", json.RawMessage(`{"dqlStatement":"fetch"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "DQL syntax error")
}

func TestGatewayNotConnected(t *testing.T) {
	g := New(Config{Transport: "stdio", Command: "true"})
	_, err := g.CallTool(context.Background(), "list_problems", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, g.Stop(context.Background()))
}

func TestGatewayRejectsUnknownTransport(t *testing.T) {
	g := New(Config{Transport: "grpc"})
	assert.Error(t, g.Start(context.Background()))
}

func TestDynatraceEnv(t *testing.T) {
	env := DynatraceEnv("https://abc.apps.dynatrace.com", "dt0s16.x")
	assert.Equal(t, []string{
		"OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE=delta",
		"DT_ENVIRONMENT=https://abc.apps.dynatrace.com",
		"DT_PLATFORM_TOKEN=dt0s16.x",
	}, env)
}
