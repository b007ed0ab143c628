package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all FINSHIELD tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("finshield", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolGetHistory, h.HandleGetHistory)
	s.AddTool(ToolCheckHealth, h.HandleCheckHealth)

	return s
}
