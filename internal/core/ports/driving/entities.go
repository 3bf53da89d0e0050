package driving

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// DeleteBatch is a running bulk delete. Consumers may observe progress
// and await completion.
type DeleteBatch interface {
	// ID identifies the batch.
	ID() string

	// Updates delivers a snapshot after each item and a final completed
	// snapshot, then closes.
	Updates() <-chan domain.DeleteBatchProgress

	// Done is closed once the batch has completed and the re-fetch ran.
	Done() <-chan struct{}

	// Wait blocks until Done and returns the final progress.
	Wait() domain.DeleteBatchProgress

	// Snapshot returns the current progress.
	Snapshot() domain.DeleteBatchProgress

	// Records returns the records fetched after completion.
	Records() []domain.Record
}

// EntityService exposes record operations against the accounting system.
type EntityService interface {
	// ListEntityTypes returns the static catalog.
	ListEntityTypes() []domain.EntityDescriptor

	// FetchRecords returns active records of a logical entity type.
	// filter holds equality conditions ANDed with the type's own filter.
	FetchRecords(ctx context.Context, userID, entityType string, filter map[string]string) ([]domain.Record, error)

	// CreateRecord creates a record.
	CreateRecord(ctx context.Context, userID, entityType string, payload domain.Record) (domain.Record, error)

	// UpdateRecord writes a record, echoing the sync token last observed.
	UpdateRecord(ctx context.Context, userID, entityType, id string, payload domain.Record, syncToken string) (domain.Record, error)

	// DeleteRecord soft-deletes one record.
	DeleteRecord(ctx context.Context, userID, entityType, id string) (domain.Record, error)

	// DeleteMany soft-deletes ids one at a time and reports progress.
	DeleteMany(ctx context.Context, userID, entityType string, ids []string) (DeleteBatch, error)
}
