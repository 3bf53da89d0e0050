package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure ConnectionStore implements the interface.
var _ driven.ConnectionStore = (*ConnectionStore)(nil)

// ConnectionStore is an in-memory implementation of driven.ConnectionStore.
type ConnectionStore struct {
	mu    sync.RWMutex
	conns map[string]domain.Connection
}

// NewConnectionStore creates a new in-memory connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{
		conns: make(map[string]domain.Connection),
	}
}

// Get retrieves the connection for a user.
func (s *ConnectionStore) Get(_ context.Context, userID string) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &conn, nil
}

// Upsert stores or overwrites the user's connection, keeping CreatedAt.
func (s *ConnectionStore) Upsert(_ context.Context, conn domain.Connection) error {
	if conn.UserID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conns[conn.UserID]; ok && !existing.CreatedAt.IsZero() {
		conn.CreatedAt = existing.CreatedAt
	}
	s.conns[conn.UserID] = conn
	return nil
}

// Delete removes the user's connection.
func (s *ConnectionStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, userID)
	return nil
}

// ListExpiringBefore returns connections expiring before t, soonest first.
func (s *ConnectionStore) ListExpiringBefore(_ context.Context, t time.Time) ([]domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Connection
	for _, c := range s.conns {
		if c.ExpiresAt.Before(t) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// Len returns the number of stored connections.
func (s *ConnectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
