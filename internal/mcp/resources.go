package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

const (
	expertsURI    = "guidematch://experts"
	expertsPrefix = expertsURI + "/"
)

func (s *Server) registerResources() {
	// guidematch://experts: the current candidate pool.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			expertsURI,
			"Expert Directory",
			mcplib.WithResourceDescription("All experts currently eligible for matching"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleExperts,
	)

	// guidematch://experts/{id}: one expert's profile.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			expertsPrefix+"{id}",
			"Expert Profile",
			mcplib.WithTemplateDescription("Profile for a single expert"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleExpert,
	)
}

func (s *Server) handleExperts(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	pool, err := s.catalog.Pool(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: experts: %s", model.Classify(err).Kind.UserMessage())
	}
	experts := pool.Candidates()
	return textContents(expertsURI, model.ExpertListResponse{Experts: experts, Count: len(experts)})
}

func (s *Server) handleExpert(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id, err := parseExpertURI(request.Params.URI)
	if err != nil {
		return nil, err
	}
	c, err := s.catalog.Lookup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: expert %q: %w", id, err)
	}
	return textContents(request.Params.URI, c)
}

// parseExpertURI extracts the id from guidematch://experts/{id}.
func parseExpertURI(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, expertsPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid expert URI %q", uri)
	}
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("mcp: invalid expert id in URI %q", uri)
	}
	return id, nil
}

func textContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
