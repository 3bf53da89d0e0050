package mcp

import (
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server calls.
type Ports struct {
	// Entities reads and writes records. Required.
	Entities driving.EntityService

	// Connections reports connection status. Optional.
	Connections driving.ConnectionService

	// Audit reads the operation log. Optional.
	Audit driving.AuditService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Entities == nil {
		return ErrMissingEntityService
	}
	return nil
}
