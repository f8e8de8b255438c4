package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"messkit://about",
			"messkit About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, configured window identities and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"messkit://units",
			"Hosted Units",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Every hosted unit with its state and resolved mode."),
		),
		s.handleUnitsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"messkit://unit/{unitId}/facts{?predicate,limit}",
			"Unit Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Read recent facts for one unit (optionally filtered by predicate)."),
		),
		s.handleUnitFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	names := s.cfg.Creative.WindowNames
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"window_names": map[string]string{
			"dev":   names.Dev,
			"style": names.Style,
			"props": names.Props,
		},
		"tools": s.ToolNames(),
		"notes": []string{
			"Resources are read-only context endpoints; use tools for actions.",
			"An empty window_name hosts a live unit; editor names wait for prop updates.",
			"Every unit event is a fact whose first argument is the unit ID.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleUnitsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	units := s.harness.Units()
	return jsonContents(request.Params.URI, map[string]interface{}{
		"units": units,
		"count": len(units),
	})
}

func (s *Server) handleUnitFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("mangle engine unavailable")
	}

	unitID := argString(request.Params.Arguments["unitId"])
	if unitID == "" {
		return nil, fmt.Errorf("missing unitId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := clampLimit(asInt(request.Params.Arguments["limit"]))

	facts := selectRecentFacts(s.engine, unitID, predicate, limit)
	return jsonContents(request.Params.URI, map[string]interface{}{
		"unit_id":   unitID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
