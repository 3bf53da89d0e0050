package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	uriScheme = "ledgersync://"

	// logLimit is how many operation log entries the logs resource shows.
	logLimit = 50
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "entity-types",
		Name:        "entity-types",
		Description: "Record types with their deletion strategy",
		MIMEType:    "application/json",
	}, s.handleEntityTypesResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "entities/{entityType}/records",
		Name:        "entity-records",
		Description: "Active records of one type",
		MIMEType:    "application/json",
	}, s.handleRecordsResource)

	if s.ports.Audit != nil {
		s.server.AddResource(&mcp.Resource{
			URI:         uriScheme + "logs",
			Name:        "operation-log",
			Description: "Recent fetch, delete, import and export operations",
			MIMEType:    "application/json",
		}, s.handleLogsResource)
	}
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

func (s *Server) handleEntityTypesResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, s.ports.Entities.ListEntityTypes())
}

func (s *Server) handleRecordsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	entityType := extractEntityType(req.Params.URI)
	if entityType == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	records, err := s.ports.Entities.FetchRecords(ctx, s.userID, entityType, nil)
	if err != nil {
		return nil, toolError(err)
	}
	if records == nil {
		return jsonResource(req.Params.URI, []any{})
	}
	return jsonResource(req.Params.URI, records)
}

func (s *Server) handleLogsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	entries, err := s.ports.Audit.Recent(ctx, s.userID, logLimit)
	if err != nil {
		return nil, fmt.Errorf("reading operation log: %w", err)
	}
	return jsonResource(req.Params.URI, entries)
}

// extractEntityType returns the type from ledgersync://entities/{type}/records.
func extractEntityType(uri string) string {
	const prefix = uriScheme + "entities/"
	const suffix = "/records"

	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return ""
	}
	t := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), suffix)
	if strings.Contains(t, "/") {
		return ""
	}
	return t
}
