package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/lookout/internal/agent/runner"
	"github.com/moolen/lookout/internal/apiserver"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assistant over MCP and websocket",
	Long: `Start the assistant as a server.

Endpoints:
  /v1/threads/{id}/turns     websocket: send {"text": "..."} and receive the turn's events
  /v1/threads/{id}/messages  thread history as JSON
  /mcp                       MCP streamable HTTP with the ask_observability tool
  /metrics                   Prometheus metrics
  /healthz, /readyz          health checks

With --transport stdio the MCP server is served on stdin/stdout instead and
the HTTP server keeps running for websocket clients and metrics.`,
	RunE: runServe,
}

var (
	serveAddr        string
	serveTransport   string
	serveMCPEndpoint string
	serveModel       string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "http-addr", "", "HTTP listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "http", "MCP transport: http or stdio")
	serveCmd.Flags().StringVar(&serveMCPEndpoint, "mcp-endpoint", "", "HTTP path of the MCP endpoint (overrides server.mcp_endpoint)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "Model to use (overrides model.name from the config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger := logging.GetLogger("serve")

	if serveTransport != "http" && serveTransport != "stdio" {
		return fmt.Errorf("invalid transport type: %s (must be 'http' or 'stdio')", serveTransport)
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveMCPEndpoint != "" {
		cfg.Server.MCPEndpoint = serveMCPEndpoint
	}
	if serveModel != "" {
		cfg.Model.Name = serveModel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, runner.Config{App: cfg, ConfigPath: path, Version: Version})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	mcpServer := mcp.NewServer(r.Chat(), Version)
	opts := []apiserver.Option{}
	if cfg.Server.Metrics {
		opts = append(opts, apiserver.WithMetrics(r.Metrics().Handler()))
	}
	if serveTransport == "http" {
		opts = append(opts, apiserver.WithMCP(mcpServer.Handler(cfg.Server.MCPEndpoint)))
	}
	api := apiserver.New(apiserver.Config{Addr: cfg.Server.Addr, MCPEndpoint: cfg.Server.MCPEndpoint}, r.Chat(), opts...)
	if err := r.Manager().Register(api); err != nil {
		return err
	}

	logger.Info("Starting Lookout %s (model %s, MCP transport %s)", Version, r.Chat().Model(), serveTransport)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if serveTransport == "stdio" {
		g.Go(func() error {
			// The stdio server returns when stdin closes; that ends the process.
			defer stop()
			if err := mcpServer.ServeStdio(); err != nil {
				return fmt.Errorf("stdio transport: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return r.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
