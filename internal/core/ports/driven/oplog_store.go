package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// OperationLogStore is the append-only audit log.
type OperationLogStore interface {
	// Append writes one entry.
	Append(ctx context.Context, entry domain.OperationLogEntry) error

	// ListByUser returns a user's most recent entries, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.OperationLogEntry, error)
}
