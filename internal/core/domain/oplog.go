package domain

import (
	"strings"
	"time"
)

// OperationKind is the fixed set of audited operation classes.
type OperationKind string

// Operation kinds.
const (
	OpFetch  OperationKind = "fetch"
	OpImport OperationKind = "import"
	OpDelete OperationKind = "delete"
	OpExport OperationKind = "export"
)

// operationAliases maps free-form labels onto the fixed enum.
var operationAliases = map[string]OperationKind{
	"fetch":   OpFetch,
	"query":   OpFetch,
	"read":    OpFetch,
	"list":    OpFetch,
	"get":     OpFetch,
	"refresh": OpFetch,

	"import": OpImport,
	"create": OpImport,
	"update": OpImport,
	"upsert": OpImport,

	"delete":     OpDelete,
	"remove":     OpDelete,
	"void":       OpDelete,
	"deactivate": OpDelete,

	"export":   OpExport,
	"download": OpExport,
}

// CoerceOperationKind maps any label to a member of the fixed enum.
// Unrecognised labels become OpFetch. It never fails.
func CoerceOperationKind(label string) OperationKind {
	if k, ok := operationAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return k
	}
	return OpFetch
}

// IsValid returns true if the kind is a member of the fixed enum.
func (k OperationKind) IsValid() bool {
	switch k {
	case OpFetch, OpImport, OpDelete, OpExport:
		return true
	default:
		return false
	}
}

// OperationStatus is the outcome recorded for an operation.
type OperationStatus string

// Operation statuses.
const (
	OpStatusSuccess OperationStatus = "success"
	OpStatusError   OperationStatus = "error"
	OpStatusPending OperationStatus = "pending"
	OpStatusPartial OperationStatus = "partial"
)

// EntityTypeConnection tags audit entries for token refresh and connect.
const EntityTypeConnection = "connection"

// OperationLogEntry is one append-only audit row, written after the
// operation it describes has resolved.
type OperationLogEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       OperationKind   `json:"operation_kind"`
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id,omitempty"`
	Status     OperationStatus `json:"status"`
	Details    map[string]any  `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
