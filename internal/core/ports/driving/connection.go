package driving

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Result is the structured outcome of a connection operation. Failures are
// reported here rather than as Go errors so callers can render them directly.
type Result struct {
	Success     bool             `json:"success"`
	CompanyName string           `json:"company_name,omitempty"`
	Error       string           `json:"error,omitempty"`
	Kind        domain.ErrorKind `json:"kind,omitempty"`
	Reconnect   bool             `json:"reconnect,omitempty"`
}

// FailureResult renders err as a failed Result.
func FailureResult(err error) Result {
	return Result{
		Error:     domain.UserMessage(err),
		Kind:      domain.Classify(err),
		Reconnect: domain.NeedsReconnect(err),
	}
}

// StatusResult is the answer to "is this user connected".
type StatusResult struct {
	Connected   bool                    `json:"connected"`
	Status      domain.ConnectionStatus `json:"status"`
	CompanyName string                  `json:"company_name,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// ConnectionService manages a user's link to the accounting system.
type ConnectionService interface {
	// Connect returns the authorisation URL the browser should visit.
	Connect(ctx context.Context, userID, redirectURI string) (string, error)

	// CompleteConnection finishes authorisation from the callback parameters.
	// state carries the initiating user ID.
	CompleteConnection(ctx context.Context, code, state, tenantID string) Result

	// GetStatus reports whether the user is connected.
	GetStatus(ctx context.Context, userID string) StatusResult

	// Disconnect revokes the grant (best effort) and deletes the connection.
	Disconnect(ctx context.Context, userID string) Result

	// Subscribe streams status changes for a user until cancel is called.
	Subscribe(userID string) (<-chan domain.StatusSnapshot, func())
}
