// Package mcp implements the Model Context Protocol server for Zapply.
//
// The MCP server exposes the run control and query surface of the HTTP
// API as tools, so MCP-compatible AI agents can trigger scraping runs
// and inspect their outcomes.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/storage"
)

// Server wraps the MCP server with the engine's service layer.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	db           *storage.DB
	orchestrator *scraper.Orchestrator
	registry     *scraper.Registry
	logger       *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(db *storage.DB, orchestrator *scraper.Orchestrator, registry *scraper.Registry, logger *slog.Logger) *Server {
	s := &Server{
		db:           db,
		orchestrator: orchestrator,
		registry:     registry,
		logger:       logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"zapply",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
