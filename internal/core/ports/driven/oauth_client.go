package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// OAuthClient talks to the upstream authorisation server.
type OAuthClient interface {
	// AuthCodeURL builds the authorisation redirect for the given state.
	AuthCodeURL(state, redirectURI string) string

	// Exchange trades an authorisation code for tokens.
	// Failures wrap domain.ErrExchangeFailed.
	Exchange(ctx context.Context, code, redirectURI string) (*domain.OAuthToken, error)

	// Refresh obtains a new token pair. Failures wrap domain.ErrRefreshFailed;
	// a revoked or expired grant sets SyncError.Reconnect.
	Refresh(ctx context.Context, refreshToken string) (*domain.OAuthToken, error)

	// Revoke invalidates a token upstream.
	Revoke(ctx context.Context, token string) error
}
