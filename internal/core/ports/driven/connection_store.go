package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ConnectionStore persists one Connection per user.
// Writes are last-writer-wins; callers re-read rather than trusting a copy
// held across network calls.
type ConnectionStore interface {
	// Get retrieves the connection for a user.
	// Returns domain.ErrNotFound if the user is not connected.
	Get(ctx context.Context, userID string) (*domain.Connection, error)

	// Upsert creates the row or overwrites the existing one in place.
	Upsert(ctx context.Context, conn domain.Connection) error

	// Delete removes the user's connection. Deleting a missing row is not an error.
	Delete(ctx context.Context, userID string) error

	// ListExpiringBefore returns connections whose access token expires before t.
	ListExpiringBefore(ctx context.Context, t time.Time) ([]domain.Connection, error)
}
