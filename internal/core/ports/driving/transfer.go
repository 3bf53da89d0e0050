package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ImportSummary reports the outcome of a spreadsheet import.
type ImportSummary struct {
	EntityType string                 `json:"entity_type"`
	Total      int                    `json:"total"`
	Created    int                    `json:"created"`
	Updated    int                    `json:"updated"`
	Failed     int                    `json:"failed"`
	Status     domain.OperationStatus `json:"status"`
	Errors     []domain.ItemResult    `json:"errors,omitempty"`
}

// TransferService moves records between the accounting system and spreadsheets.
type TransferService interface {
	// Export writes all active records of a type and returns the row count.
	Export(ctx context.Context, userID, entityType string, w io.Writer) (int, error)

	// Import creates or updates records from rows.
	Import(ctx context.Context, userID, entityType string, r io.Reader) (*ImportSummary, error)
}

// AuditService reads the operation log.
type AuditService interface {
	Recent(ctx context.Context, userID string, limit int) ([]domain.OperationLogEntry, error)
}
