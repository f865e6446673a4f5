// Package mcp exposes the assistant as a Model Context Protocol server so
// other agents can ask it observability questions.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moolen/lookout/internal/agent/engine"
	"github.com/moolen/lookout/internal/logging"
)

// AskToolName is the single tool offered by the server.
const AskToolName = "ask_observability"

// Chatter runs a turn and streams its events. chatbot.Service implements it.
type Chatter interface {
	Chat(ctx context.Context, threadID, text string) (<-chan engine.Event, error)
}

// Server wraps the mcp-go server with the assistant tool and prompts.
type Server struct {
	mcpServer *server.MCPServer
	chat      Chatter
	logger    *logging.Logger
}

func NewServer(chat Chatter, version string) *Server {
	mcpServer := server.NewMCPServer(
		"Lookout MCP Server",
		version,
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
		server.WithLogging(),
	)
	s := &Server{
		mcpServer: mcpServer,
		chat:      chat,
		logger:    logging.GetLogger("mcp"),
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

func (s *Server) registerTools() {
	tool := mcp.NewTool(AskToolName,
		mcp.WithDescription("Ask the observability assistant a question about telemetry, problems, "+
			"vulnerabilities or deployments in the Dynatrace environment. Pass thread_id to continue "+
			"an earlier conversation."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question in natural language")),
		mcp.WithString("thread_id", mcp.Description("Optional: conversation to continue; a new one is started when empty")),
	)
	s.mcpServer.AddTool(tool, s.handleAsk)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	question, _ := args["question"].(string)
	if strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}
	threadID, _ := args["thread_id"].(string)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	events, err := s.chat.Chat(ctx, threadID, question)
	if err != nil {
		if errors.Is(err, engine.ErrThreadBusy) {
			return mcp.NewToolResultError(fmt.Sprintf("thread %s is busy, retry later", threadID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start turn: %v", err)), nil
	}

	var final *engine.TurnComplete
	var failure *engine.ErrorInfo
	for ev := range events {
		switch ev.Kind() {
		case engine.KindTurnComplete:
			final = ev.TurnComplete
		case engine.KindError:
			failure = ev.Error
		}
	}

	switch {
	case failure != nil:
		s.logger.WarnWithFields("ask failed",
			logging.Field("thread_id", threadID),
			logging.Field("code", failure.Code))
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", failure.Code, failure.Message)), nil
	case final == nil:
		if ctx.Err() != nil {
			return mcp.NewToolResultError("request canceled"), nil
		}
		return mcp.NewToolResultError("turn ended without an answer"), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(final.Final),
			mcp.NewTextContent("thread_id: " + threadID),
		},
	}, nil
}

func (s *Server) registerPrompts() {
	problemPrompt := mcp.Prompt{
		Name:        "investigate_problem",
		Description: "Investigate an open Dynatrace problem and propose a mitigation",
		Arguments: []mcp.PromptArgument{
			{Name: "problem_id", Description: "Problem ID, e.g. P-12345", Required: false},
			{Name: "service", Description: "Optional: affected service name", Required: false},
			{Name: "timeframe", Description: "Optional: time window, e.g. 2h (default 24h)", Required: false},
		},
	}
	s.mcpServer.AddPrompt(problemPrompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		args := request.Params.Arguments
		text := "List the open problems"
		if id := args["problem_id"]; id != "" {
			text = fmt.Sprintf("Investigate problem %s", id)
		}
		if service := args["service"]; service != "" {
			text += fmt.Sprintf(" affecting %s", service)
		}
		timeframe := args["timeframe"]
		if timeframe == "" {
			timeframe = "24h"
		}
		text += fmt.Sprintf(" over the last %s, identify the root cause and recommend a mitigation. Use the %s tool.",
			timeframe, AskToolName)

		return &mcp.GetPromptResult{
			Description: "Problem investigation workflow",
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: text}},
			},
		}, nil
	})

	vulnPrompt := mcp.Prompt{
		Name:        "vulnerability_review",
		Description: "Review open vulnerabilities and prioritize remediation",
		Arguments: []mcp.PromptArgument{
			{Name: "risk_level", Description: "Optional: minimum risk level (CRITICAL, HIGH, MEDIUM, LOW)", Required: false},
			{Name: "entity", Description: "Optional: process group or host to focus on", Required: false},
		},
	}
	s.mcpServer.AddPrompt(vulnPrompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		args := request.Params.Arguments
		risk := args["risk_level"]
		if risk == "" {
			risk = "HIGH"
		}
		text := fmt.Sprintf("List open vulnerabilities with risk level %s or above", risk)
		if entity := args["entity"]; entity != "" {
			text += fmt.Sprintf(" on %s", entity)
		}
		text += fmt.Sprintf(" and rank them by remediation priority. Use the %s tool.", AskToolName)

		return &mcp.GetPromptResult{
			Description: "Vulnerability triage workflow",
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: text}},
			},
		}, nil
	})
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Handler serves the streamable HTTP transport at endpoint. Sessions are
// stateless; continuity is carried by thread_id.
func (s *Server) Handler(endpoint string) http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(endpoint),
		server.WithStateLess(true),
	)
}

// ServeStdio blocks serving the stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
