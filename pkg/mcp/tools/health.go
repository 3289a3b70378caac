package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Datasource string `json:"datasource"`
}

// ConnectionTester reports whether the datasource is reachable.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server version and whether the datasource answers.
func RegisterHealthTool(s *server.MCPServer, version string, db ConnectionTester) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and datasource reachability"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version, Datasource: "ok"}
		if db != nil {
			if err := db.TestConnection(ctx); err != nil {
				res.Status = "degraded"
				res.Datasource = "unreachable"
			}
		}
		payload, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}
