package services

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure EntityService implements the interface.
var _ driving.EntityService = (*EntityService)(nil)

// EntityService exposes the sync engine and bulk deleter to driving adapters.
type EntityService struct {
	engine *EntitySync
	bulk   *BulkDeleter
}

// NewEntityService creates an EntityService.
func NewEntityService(engine *EntitySync, bulk *BulkDeleter) *EntityService {
	return &EntityService{engine: engine, bulk: bulk}
}

// ListEntityTypes returns the catalog in display order.
func (s *EntityService) ListEntityTypes() []domain.EntityDescriptor {
	return s.engine.Catalog().List()
}

// FetchRecords returns active records of entityType.
func (s *EntityService) FetchRecords(
	ctx context.Context, userID, entityType string, filter map[string]string,
) ([]domain.Record, error) {
	return s.engine.Fetch(ctx, userID, entityType, filter)
}

// CreateRecord creates a record.
func (s *EntityService) CreateRecord(
	ctx context.Context, userID, entityType string, payload domain.Record,
) (domain.Record, error) {
	return s.engine.Create(ctx, userID, entityType, payload)
}

// UpdateRecord updates a record.
func (s *EntityService) UpdateRecord(
	ctx context.Context, userID, entityType, id string, payload domain.Record, syncToken string,
) (domain.Record, error) {
	return s.engine.Update(ctx, userID, entityType, id, payload, syncToken)
}

// DeleteRecord soft-deletes a record.
func (s *EntityService) DeleteRecord(ctx context.Context, userID, entityType, id string) (domain.Record, error) {
	return s.engine.Delete(ctx, userID, entityType, id)
}

// DeleteMany starts a bulk delete.
func (s *EntityService) DeleteMany(
	ctx context.Context, userID, entityType string, ids []string,
) (driving.DeleteBatch, error) {
	return s.bulk.DeleteMany(ctx, userID, entityType, ids)
}
