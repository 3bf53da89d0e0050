package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure OperationLogStore implements the interface.
var _ driven.OperationLogStore = (*OperationLogStore)(nil)

// OperationLogStore is an in-memory append-only audit log.
type OperationLogStore struct {
	mu      sync.RWMutex
	entries []domain.OperationLogEntry
}

// NewOperationLogStore creates a new in-memory operation log.
func NewOperationLogStore() *OperationLogStore {
	return &OperationLogStore{}
}

// Append writes one entry.
func (s *OperationLogStore) Append(_ context.Context, entry domain.OperationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListByUser returns a user's most recent entries, newest first.
func (s *OperationLogStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.OperationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OperationLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID != userID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every entry in append order.
func (s *OperationLogStore) All() []domain.OperationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OperationLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
