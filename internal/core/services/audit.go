package services

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure AuditService implements the interface.
var _ driving.AuditService = (*AuditService)(nil)

// DefaultAuditLimit applies when a caller asks for a non-positive limit.
const DefaultAuditLimit = 50

// AuditService reads the operation log.
type AuditService struct {
	store driven.OperationLogStore
}

// NewAuditService creates an AuditService.
func NewAuditService(store driven.OperationLogStore) *AuditService {
	return &AuditService{store: store}
}

// Recent returns the user's newest entries first.
func (s *AuditService) Recent(ctx context.Context, userID string, limit int) ([]domain.OperationLogEntry, error) {
	if userID == "" {
		return nil, domain.NewSyncError(domain.ErrNotAuthenticated, "", nil)
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return s.store.ListByUser(ctx, userID, limit)
}
