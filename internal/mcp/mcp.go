// Package mcp exposes trip planning and expert selection over the Model
// Context Protocol, mirroring the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// Planner runs trips and expert selection (orchestrator.Orchestrator).
type Planner interface {
	Run(ctx context.Context, req model.TripRequest) model.OrchestrationOutcome
	SelectForGuide(ctx context.Context, guide model.TravelGuide) (model.SelectionResult, error)
	ExpertDetails(ctx context.Context, sel model.Selection) ([]model.Candidate, error)
}

// Catalog exposes the candidate directory (directory.Directory).
type Catalog interface {
	Pool(ctx context.Context) (model.CandidatePool, error)
	Lookup(ctx context.Context, id string) (model.Candidate, error)
	Invalidate() uint64
	Status() model.DirectoryStatus
}

// Server wraps the MCP server with the planning services.
type Server struct {
	mcpServer *mcpserver.MCPServer
	planner   Planner
	catalog   Catalog
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools
// and prompts.
func New(planner Planner, catalog Catalog, logger *slog.Logger, version string) *Server {
	s := &Server{
		planner: planner,
		catalog: catalog,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"guidematch",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

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

// jsonResult renders v as indented JSON text content.
func jsonResult(v any, isError bool) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result")
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: isError,
	}
}

// kindResult reports a classified failure using only its stable message and
// our own detail.
func kindResult(me *model.Error, payload any) *mcplib.CallToolResult {
	if payload == nil {
		payload = me
	}
	return jsonResult(struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Result  any    `json:"result"`
	}{string(me.Kind), me.Kind.UserMessage(), payload}, true)
}
