// Package mcp implements the Model Context Protocol server for Sieve.
//
// The MCP server exposes the screening workflow through MCP tools and
// resources, so MCP-compatible AI agents can pull their queue, submit
// verdicts, and inspect quorum state without going through the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/service/review"
)

// Server wraps the MCP server with Sieve's screening service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *review.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(svc *review.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"sieve",
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

func (s *Server) registerResources() {
	// sieve://projects/{project_id}/stats: gate counters for every phase.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"sieve://projects/{project_id}/stats",
			"Phase Statistics",
			mcplib.WithTemplateDescription("Quorum and advancement gate statistics for every phase of a project"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleProjectStats,
	)

	// sieve://projects/{project_id}/conflicts: unresolved disagreements.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"sieve://projects/{project_id}/conflicts",
			"Open Conflicts",
			mcplib.WithTemplateDescription("Unresolved reviewer disagreements across all phases of a project"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleProjectConflicts,
	)
}

func (s *Server) handleProjectStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	projectID, err := projectIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	actor := actorFrom(ctx)
	stats := map[model.Phase]model.PhaseStats{}
	for _, phase := range model.Phases() {
		ps, err := s.svc.PhaseStats(ctx, actor, projectID, phase)
		if err != nil {
			return nil, fmt.Errorf("mcp: phase stats %s: %w", phase, err)
		}
		stats[phase] = ps
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal stats: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleProjectConflicts(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	projectID, err := projectIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	all := []model.Conflict{}
	for _, phase := range model.Phases() {
		conflicts, err := s.svc.ListConflicts(ctx, projectID, phase)
		if err != nil {
			return nil, fmt.Errorf("mcp: list conflicts %s: %w", phase, err)
		}
		all = append(all, conflicts...)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal conflicts: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// projectIDFromURI extracts the project UUID from a
// sieve://projects/{id}/... resource URI.
func projectIDFromURI(uri string) (uuid.UUID, error) {
	const prefix = "sieve://projects/"
	if len(uri) <= len(prefix) {
		return uuid.Nil, fmt.Errorf("mcp: malformed resource uri %q", uri)
	}
	rest := uri[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			rest = rest[:i]
			break
		}
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid project id in uri %q: %w", uri, err)
	}
	return id, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
