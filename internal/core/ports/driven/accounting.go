package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Session identifies the tenant and bearer token for an upstream call.
type Session struct {
	TenantID    string
	AccessToken string
}

// AccountingAPI is the upstream accounting system. Failures are
// *domain.SyncError values classified into the taxonomy.
type AccountingAPI interface {
	// Query runs a query and returns the records keyed by physical type.
	Query(ctx context.Context, s Session, q domain.Query) (domain.QueryResponse, error)

	// Read returns one record with its current sync token.
	Read(ctx context.Context, s Session, entity, id string) (domain.Record, error)

	// Create creates a record.
	Create(ctx context.Context, s Session, entity string, payload domain.Record) (domain.Record, error)

	// Update writes a record. The payload must carry Id and SyncToken.
	Update(ctx context.Context, s Session, entity string, payload domain.Record) (domain.Record, error)

	// CompanyName returns the tenant's display name.
	CompanyName(ctx context.Context, s Session) (string, error)
}
