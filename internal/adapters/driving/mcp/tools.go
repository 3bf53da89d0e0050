package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// maxFetched caps the records returned by fetch_records.
const maxFetched = 100

// StatusInput is empty; status is always for the configured user.
type StatusInput struct{}

// StatusOutput is the output schema for connection_status.
type StatusOutput struct {
	Connected   bool   `json:"connected"`
	Status      string `json:"status"`
	CompanyName string `json:"company_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// EntityTypesInput is empty.
type EntityTypesInput struct{}

// EntityTypesOutput lists the supported record types.
type EntityTypesOutput struct {
	Types []EntityTypeOutput `json:"types"`
}

// EntityTypeOutput describes one record type.
type EntityTypeOutput struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Deletion   string `json:"deletion"`
	Importable bool   `json:"importable"`
}

// FetchInput is the input schema for fetch_records.
type FetchInput struct {
	EntityType string            `json:"entity_type" jsonschema:"record type, e.g. Customer or Invoice"`
	Filter     map[string]string `json:"filter,omitempty" jsonschema:"field equality conditions, e.g. {\"DocNumber\":\"1001\"}"`
	Limit      int               `json:"limit,omitempty" jsonschema:"maximum number of records to return (default 100)"`
}

// RecordsOutput carries records back to the assistant.
type RecordsOutput struct {
	Records []map[string]any `json:"records"`
	Count   int              `json:"count"`
	Total   int              `json:"total"`
}

// WriteInput is the input schema for create_record and update_record.
type WriteInput struct {
	EntityType string         `json:"entity_type" jsonschema:"record type, e.g. Customer"`
	ID         string         `json:"id,omitempty" jsonschema:"record id; required for update_record"`
	SyncToken  string         `json:"sync_token,omitempty" jsonschema:"sync token last read; required for update_record"`
	Fields     map[string]any `json:"fields" jsonschema:"record fields to write"`
}

// DeleteInput is the input schema for delete_record.
type DeleteInput struct {
	EntityType string `json:"entity_type" jsonschema:"record type, e.g. Customer"`
	ID         string `json:"id" jsonschema:"record id"`
}

// RecordOutput wraps a single record.
type RecordOutput struct {
	Record map[string]any `json:"record"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	if s.ports.Connections != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "connection_status",
			Description: "Report whether an accounting company is connected",
		}, s.handleStatus)
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_entity_types",
		Description: "List the record types that can be read and written",
	}, s.handleEntityTypes)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "fetch_records",
		Description: "List active records of one type, optionally filtered",
	}, s.handleFetch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_record",
		Description: "Create a record",
	}, s.handleCreate)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_record",
		Description: "Update a record; pass the sync token from the last read",
	}, s.handleUpdate)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_record",
		Description: "Delete a record, or make it inactive for types that cannot be deleted",
	}, s.handleDelete)
}

// toolError renders a domain failure for the assistant.
func toolError(err error) error {
	return fmt.Errorf("%s: %s", domain.Classify(err), domain.UserMessage(err))
}

func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	st := s.ports.Connections.GetStatus(ctx, s.userID)
	return nil, StatusOutput{
		Connected:   st.Connected,
		Status:      string(st.Status),
		CompanyName: st.CompanyName,
		Error:       st.Error,
	}, nil
}

func (s *Server) handleEntityTypes(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ EntityTypesInput,
) (*mcp.CallToolResult, EntityTypesOutput, error) {
	types := s.ports.Entities.ListEntityTypes()
	out := EntityTypesOutput{Types: make([]EntityTypeOutput, len(types))}
	for i, d := range types {
		out.Types[i] = EntityTypeOutput{
			Name:       d.Name,
			Label:      d.Label,
			Deletion:   string(d.Deletion),
			Importable: d.Importable,
		}
	}
	return nil, out, nil
}

func (s *Server) handleFetch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FetchInput,
) (*mcp.CallToolResult, RecordsOutput, error) {
	limit := input.Limit
	if limit <= 0 || limit > maxFetched {
		limit = maxFetched
	}

	records, err := s.ports.Entities.FetchRecords(ctx, s.userID, input.EntityType, input.Filter)
	if err != nil {
		return nil, RecordsOutput{}, toolError(err)
	}

	out := RecordsOutput{Records: []map[string]any{}, Total: len(records)}
	for i := 0; i < len(records) && i < limit; i++ {
		out.Records = append(out.Records, records[i])
	}
	out.Count = len(out.Records)
	return nil, out, nil
}

func (s *Server) handleCreate(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input WriteInput,
) (*mcp.CallToolResult, RecordOutput, error) {
	rec, err := s.ports.Entities.CreateRecord(ctx, s.userID, input.EntityType, domain.Record(input.Fields))
	if err != nil {
		return nil, RecordOutput{}, toolError(err)
	}
	return nil, RecordOutput{Record: rec}, nil
}

func (s *Server) handleUpdate(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input WriteInput,
) (*mcp.CallToolResult, RecordOutput, error) {
	if input.ID == "" {
		return nil, RecordOutput{}, errors.New("invalid_input: id is required")
	}
	rec, err := s.ports.Entities.UpdateRecord(ctx, s.userID, input.EntityType, input.ID,
		domain.Record(input.Fields), input.SyncToken)
	if err != nil {
		return nil, RecordOutput{}, toolError(err)
	}
	return nil, RecordOutput{Record: rec}, nil
}

func (s *Server) handleDelete(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeleteInput,
) (*mcp.CallToolResult, RecordOutput, error) {
	rec, err := s.ports.Entities.DeleteRecord(ctx, s.userID, input.EntityType, input.ID)
	if err != nil {
		return nil, RecordOutput{}, toolError(err)
	}
	return nil, RecordOutput{Record: rec}, nil
}
