// Package gateway connects to the remote observability tool server over
// MCP and exposes its tools to workers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/moolen/lookout/internal/logging"
)

// ErrNotConnected is returned by CallTool before Start or after Stop.
var ErrNotConnected = errors.New("tool gateway not connected")

// Config describes how to reach the tool server.
type Config struct {
	// Transport is stdio or http.
	Transport string
	Command   string
	Args      []string
	// Env is appended to the child environment for stdio.
	Env []string
	URL string

	ClientName    string
	ClientVersion string
}

// Gateway is an MCP client and a lifecycle component.
type Gateway struct {
	cfg    Config
	logger *logging.Logger

	mu     sync.RWMutex
	client *client.Client
	tools  []tools.Tool
	// preset is set when the client was injected and already owns its
	// transport.
	preset bool
}

func New(cfg Config) *Gateway {
	if cfg.ClientName == "" {
		cfg.ClientName = "lookout"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	return &Gateway{cfg: cfg, logger: logging.GetLogger("gateway")}
}

// NewWithClient uses an existing client, e.g. an in-process one. Start
// still initializes it.
func NewWithClient(c *client.Client) *Gateway {
	g := New(Config{Transport: "inprocess"})
	g.client = c
	g.preset = true
	return g
}

// DynatraceEnv builds the child environment for the Dynatrace MCP server.
func DynatraceEnv(environment, platformToken string) []string {
	env := []string{"OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE=delta"}
	if environment != "" {
		env = append(env, "DT_ENVIRONMENT="+environment)
	}
	if platformToken != "" {
		env = append(env, "DT_PLATFORM_TOKEN="+platformToken)
	}
	return env
}

func (g *Gateway) Name() string {
	return "tool-gateway"
}

// Start connects, runs the MCP handshake and caches the advertised tools.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.connect(ctx)
	if err != nil {
		return err
	}

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: g.cfg.ClientName, Version: g.cfg.ClientVersion}
	result, err := c.Initialize(ctx, init)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("MCP initialize failed: %w", err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	g.client = c
	g.tools = make([]tools.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		g.tools = append(g.tools, tools.NewRemoteTool(g, t.Name, t.Description, toolSchema(t)))
	}

	g.logger.InfoWithFields("connected to tool server",
		logging.Field("server", result.ServerInfo.Name),
		logging.Field("transport", g.cfg.Transport),
		logging.Field("tools", len(g.tools)))
	return nil
}

func (g *Gateway) connect(ctx context.Context) (*client.Client, error) {
	if g.preset && g.client != nil {
		if err := g.client.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start client: %w", err)
		}
		return g.client, nil
	}

	switch g.cfg.Transport {
	case "stdio", "":
		if g.cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		// The stdio client spawns the process on construction.
		c, err := client.NewStdioMCPClient(g.cfg.Command, g.cfg.Env, g.cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", g.cfg.Command, err)
		}
		return c, nil
	case "http":
		c, err := client.NewStreamableHttpClient(g.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client for %s: %w", g.cfg.URL, err)
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", g.cfg.URL, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", g.cfg.Transport)
	}
}

// Stop closes the connection and, for stdio, the child process.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	g.tools = nil
	return err
}

// Tools returns the tools advertised by the server.
func (g *Gateway) Tools() []tools.Tool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]tools.Tool(nil), g.tools...)
}

// CallTool invokes name and returns the concatenated text content. A
// result flagged IsError becomes an error.
func (g *Gateway) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	g.mu.RLock()
	c := g.client
	g.mu.RUnlock()
	if c == nil {
		return "", ErrNotConnected
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toolSchema turns the advertised input schema into a plain map.
func toolSchema(t mcp.Tool) map[string]interface{} {
	raw := t.RawInputSchema
	if len(raw) == 0 {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}
