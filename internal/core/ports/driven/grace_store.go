package driven

import (
	"context"
	"time"
)

// GraceStore holds short-lived "just connected" flags per user.
// Implementations may be shared across processes.
type GraceStore interface {
	// Mark sets the flag for ttl.
	Mark(ctx context.Context, userID string, ttl time.Duration) error

	// Active returns true if the flag is set and has not expired.
	Active(ctx context.Context, userID string) (bool, error)

	// Clear removes the flag.
	Clear(ctx context.Context, userID string) error
}
