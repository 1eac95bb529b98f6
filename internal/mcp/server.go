// Package mcp exposes read-only workflow queries as MCP tools for agent and
// reporting consumers. The engine's write paths stay REST-only.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"maintdesk/backend/internal/services"
	"maintdesk/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *services.WorkflowService
}

func NewServer(engine *services.WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Maintdesk Workflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_state",
			mcp.WithDescription("Get the workflow state of a work order or safety incident"),
			mcp.WithString("entity_id", mcp.Required(), mcp.Description("The entity id")),
		),
		s.handleGetState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_approvals",
			mcp.WithDescription("List the approval ledger of a work order or safety incident"),
			mcp.WithString("entity_id", mcp.Required(), mcp.Description("The entity id")),
		),
		s.handleListApprovals,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_templates",
			mcp.WithDescription("List an organization's workflow templates for a module"),
			mcp.WithString("organization_id", mcp.Required(), mcp.Description("The organization id")),
			mcp.WithString("module", mcp.Required(), mcp.Description("work_orders or safety_incidents")),
		),
		s.handleListTemplates,
	)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	entityID, ok := args["entity_id"].(string)
	if !ok || entityID == "" {
		return mcp.NewToolResultError("Missing required parameter: entity_id"), nil
	}

	state, err := s.engine.GetState(ctx, entityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get state: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(state)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListApprovals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	entityID, ok := args["entity_id"].(string)
	if !ok || entityID == "" {
		return mcp.NewToolResultError("Missing required parameter: entity_id"), nil
	}

	records, err := s.engine.ListApprovals(ctx, entityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list approvals: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(records)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	org, ok := args["organization_id"].(string)
	if !ok || org == "" {
		return mcp.NewToolResultError("Missing required parameter: organization_id"), nil
	}
	module, ok := args["module"].(string)
	if !ok || !models.Module(module).Valid() {
		return mcp.NewToolResultError("Missing or invalid parameter: module"), nil
	}

	templates, err := s.engine.ListTemplates(ctx, org, models.Module(module))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list templates: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(templates)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
