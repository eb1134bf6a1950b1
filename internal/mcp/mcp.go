// Package mcp implements the Model Context Protocol server for Kioku.
//
// The MCP server exposes the retrieval pipeline through MCP tools and
// resources, so MCP-compatible AI agents can consult the incident corpus
// the same way HTTP callers do: same pipeline, same refusal semantics,
// same citation guarantees.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kioku/internal/corpus"
	"github.com/ashita-ai/kioku/internal/rag"
)

// Server wraps the MCP server with Kioku's retrieval pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	rag       *rag.Service
	corpus    *corpus.Manager
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(ragSvc *rag.Service, mgr *corpus.Manager, logger *slog.Logger, version string) *Server {
	s := &Server{
		rag:    ragSvc,
		corpus: mgr,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kioku",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
