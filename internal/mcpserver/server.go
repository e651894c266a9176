// Package mcpserver exposes riskd compliance operations as MCP tools backed
// by the REST API.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all riskd tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("riskd", Version)
	h := NewHandlers(NewRiskClient(cfg))

	s.AddTool(ToolGetProductProfile, h.HandleGetProductProfile)
	s.AddTool(ToolCheckCompliance, h.HandleCheckCompliance)
	s.AddTool(ToolEnforceBooking, h.HandleEnforceBooking)
	s.AddTool(ToolListViolations, h.HandleListViolations)
	s.AddTool(ToolGetRiskStats, h.HandleGetRiskStats)

	return s
}
