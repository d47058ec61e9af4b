package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all settlement tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("autorenta-settlement", "1.0.0")
	client := NewSettlementClient(cfg)
	h := NewHandlers(client, cfg.AccountID)

	s.AddTool(ToolGetBooking, h.HandleGetBooking)
	s.AddTool(ToolListBookings, h.HandleListBookings)
	s.AddTool(ToolCheckWalletBalance, h.HandleCheckWalletBalance)
	s.AddTool(ToolGetWalletHistory, h.HandleGetWalletHistory)
	s.AddTool(ToolListPaymentIssues, h.HandleListPaymentIssues)
	s.AddTool(ToolResolvePaymentIssue, h.HandleResolvePaymentIssue)
	s.AddTool(ToolResolveDispute, h.HandleResolveDispute)

	return s
}
