// Package mcp exposes the question pipeline as Model Context Protocol tools.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.logger.Debug("Registering tool", zap.String("tool", tool.Name))
	s.mcp.AddTool(tool, handler)
}

// RegisterRoutes serves the streamable HTTP transport at /mcp.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/mcp", server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	))
}
