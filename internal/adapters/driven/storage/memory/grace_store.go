package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure GraceStore implements the interface.
var _ driven.GraceStore = (*GraceStore)(nil)

// GraceStore keeps grace flags in process memory.
type GraceStore struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewGraceStore creates a grace store. A nil clock uses time.Now.
func NewGraceStore(now func() time.Time) *GraceStore {
	if now == nil {
		now = time.Now
	}
	return &GraceStore{
		until: make(map[string]time.Time),
		now:   now,
	}
}

// Mark sets the flag for ttl.
func (s *GraceStore) Mark(_ context.Context, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[userID] = s.now().Add(ttl)
	return nil
}

// Active returns true if the flag is set and unexpired. Expired flags are dropped.
func (s *GraceStore) Active(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.until[userID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.until, userID)
		return false, nil
	}
	return true, nil
}

// Clear removes the flag.
func (s *GraceStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.until, userID)
	return nil
}
