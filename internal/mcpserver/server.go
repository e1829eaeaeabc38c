package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all triage tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sentinel-triage", "1.0.0")
	client := NewTriageClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolStartTriage, h.HandleStartTriage)
	s.AddTool(ToolGetTriageSession, h.HandleGetTriageSession)
	s.AddTool(ToolFreezeCard, h.HandleFreezeCard)
	s.AddTool(ToolOpenDispute, h.HandleOpenDispute)
	s.AddTool(ToolListPolicies, h.HandleListPolicies)
	s.AddTool(ToolGetRiskHistory, h.HandleGetRiskHistory)

	return s
}
