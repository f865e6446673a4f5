package apiserver

import (
	"net/http"

	"github.com/moolen/lookout/internal/api"
)

func (s *Server) registerHandlers() {
	turns := api.NewTurnsHandler(s.chat)
	turns.Origins = s.cfg.AllowedOrigins
	s.router.Handle("/v1/threads/{id}/turns", turns)
	s.router.HandleFunc("/v1/threads/{id}/messages", s.withMethod(http.MethodGet, api.NewHistoryHandler(s.chat).ServeHTTP))

	s.router.HandleFunc("/healthz", s.handleHealth)
	s.router.HandleFunc("/readyz", s.handleReady)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
	if s.mcp != nil {
		s.logger.Info("Registering MCP endpoint at %s", s.cfg.MCPEndpoint)
		s.router.Handle(s.cfg.MCPEndpoint, s.mcp)
	}
}
