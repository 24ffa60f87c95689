package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/avelar/leasebot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Chat  ChatService
}

// NewMCPServer creates an MCP server exposing the assistant to agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"leasebot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("leasebot — tenancy assistant for contract questions, rent calculations, and maintenance requests."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the tenancy assistant a question on behalf of a tenant. Handles contract questions, rent calculations, and general chat."),
			mcp.WithString("tenant_id", mcp.Description("Tenant identity (email)"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The tenant's message"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("maintenance_status",
			mcp.WithDescription("List a tenant's maintenance requests, newest first."),
			mcp.WithString("tenant_id", mcp.Description("Tenant identity (email)"), mcp.Required()),
		),
		mcpMaintenanceStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("report_issue",
			mcp.WithDescription("File a maintenance request for a tenant."),
			mcp.WithString("tenant_id", mcp.Description("Tenant identity (email)"), mcp.Required()),
			mcp.WithString("location", mcp.Description("Where in the property the issue is"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What is wrong"), mcp.Required()),
			mcp.WithString("priority", mcp.Description("Urgent or Standard (default Standard)")),
		),
		mcpReportIssue(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, err := req.RequireString("tenant_id")
		if err != nil {
			return mcpError("tenant_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		return mcpText(deps.Chat.ProcessQuery(ctx, tenantID, message)), nil
	}
}

func mcpMaintenanceStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, err := req.RequireString("tenant_id")
		if err != nil {
			return mcpError("tenant_id is required"), nil
		}

		reqs, err := deps.Store.ListMaintenanceRequests(tenantID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing requests: %v", err)), nil
		}
		if len(reqs) == 0 {
			return mcpText("[]"), nil
		}

		type ticket struct {
			RequestID   string `json:"request_id"`
			Location    string `json:"location"`
			Description string `json:"description"`
			Status      string `json:"status"`
			Priority    string `json:"priority"`
			CreatedAt   string `json:"created_at"`
		}
		results := make([]ticket, len(reqs))
		for i, r := range reqs {
			results[i] = ticket{
				RequestID:   fmt.Sprintf("REQ-%d", r.RequestID),
				Location:    r.Location,
				Description: r.Description,
				Status:      r.Status,
				Priority:    r.Priority,
				CreatedAt:   r.CreatedAt.Format("2006-01-02"),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReportIssue(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, err := req.RequireString("tenant_id")
		if err != nil {
			return mcpError("tenant_id is required"), nil
		}
		location, err := req.RequireString("location")
		if err != nil {
			return mcpError("location is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}
		priority := req.GetString("priority", "")

		id, err := deps.Store.CreateMaintenanceRequest(tenantID, location, description, priority)
		if err != nil {
			return mcpError(fmt.Sprintf("creating request: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Filed REQ-%d for %s (%s).", id, location, tenantID)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
