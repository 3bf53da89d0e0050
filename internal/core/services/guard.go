package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// statusInvalidator is notified when a user's tokens change.
type statusInvalidator interface {
	Invalidate(userID string)
}

// TokenGuard decides whether a stored access token is usable and refreshes
// it when it is close to expiry. Concurrent refreshes for the same user
// share one token exchange.
type TokenGuard struct {
	store     driven.ConnectionStore
	oauth     driven.OAuthClient
	status    statusInvalidator
	audit     *OperationLogger
	threshold time.Duration
	now       func() time.Time

	group singleflight.Group
}

// NewTokenGuard creates a guard that refreshes tokens expiring within threshold.
func NewTokenGuard(
	store driven.ConnectionStore,
	oauth driven.OAuthClient,
	status statusInvalidator,
	audit *OperationLogger,
	threshold time.Duration,
) *TokenGuard {
	return &TokenGuard{
		store:     store,
		oauth:     oauth,
		status:    status,
		audit:     audit,
		threshold: threshold,
		now:       time.Now,
	}
}

// EnsureValidToken returns conn unchanged when its token is valid for more
// than the threshold. Otherwise it refreshes and returns the persisted result.
func (g *TokenGuard) EnsureValidToken(ctx context.Context, conn domain.Connection) (*domain.Connection, error) {
	if !conn.ExpiresWithin(g.threshold, g.now()) {
		return &conn, nil
	}
	return g.refresh(ctx, conn.UserID, false)
}

// Refresh exchanges the refresh token regardless of expiry.
func (g *TokenGuard) Refresh(ctx context.Context, userID string) (*domain.Connection, error) {
	return g.refresh(ctx, userID, true)
}

// Session loads the user's connection, refreshing it if needed, and returns
// the credentials for an upstream call.
func (g *TokenGuard) Session(ctx context.Context, userID string) (driven.Session, error) {
	if userID == "" {
		return driven.Session{}, domain.NewSyncError(domain.ErrNotAuthenticated, "", nil)
	}

	conn, err := g.load(ctx, userID)
	if err != nil {
		return driven.Session{}, err
	}

	valid, err := g.EnsureValidToken(ctx, *conn)
	if err != nil {
		return driven.Session{}, err
	}
	return driven.Session{TenantID: valid.TenantID, AccessToken: valid.AccessToken}, nil
}

func (g *TokenGuard) load(ctx context.Context, userID string) (*domain.Connection, error) {
	conn, err := g.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewSyncError(domain.ErrNoConnection, "", err)
	}
	if err != nil {
		return nil, domain.NewSyncError(domain.ErrPersistenceFailed, "load connection", err)
	}
	return conn, nil
}

func (g *TokenGuard) refresh(ctx context.Context, userID string, force bool) (*domain.Connection, error) {
	v, err, _ := g.group.Do(userID, func() (any, error) {
		return g.doRefresh(ctx, userID, force)
	})
	if err != nil {
		return nil, err
	}
	conn := *v.(*domain.Connection)
	return &conn, nil
}

func (g *TokenGuard) doRefresh(ctx context.Context, userID string, force bool) (*domain.Connection, error) {
	// Always work from the stored row; another caller may have refreshed already.
	current, err := g.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !force && !current.ExpiresWithin(g.threshold, g.now()) {
		return current, nil
	}

	if !current.HasRefreshToken() {
		err := &domain.SyncError{Kind: domain.ErrRefreshFailed, Message: "no refresh token stored", Reconnect: true}
		g.audit.RecordResult(ctx, userID, "refresh", domain.EntityTypeConnection, current.TenantID, nil, err)
		return nil, err
	}

	token, err := g.oauth.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if !errors.Is(err, domain.ErrRefreshFailed) {
			err = domain.NewSyncError(domain.ErrRefreshFailed, "", err)
		}
		logger.L().Warn("token refresh failed",
			zap.String("user_id", userID),
			zap.Bool("reconnect", domain.NeedsReconnect(err)),
			zap.Bool("expired", current.IsExpired(g.now())),
			zap.Error(err))
		g.audit.RecordResult(ctx, userID, "refresh", domain.EntityTypeConnection, current.TenantID, nil, err)
		return nil, err
	}

	// Re-read before writing: a disconnect during the exchange must not be undone.
	latest, err := g.load(ctx, userID)
	if err != nil {
		g.audit.RecordResult(ctx, userID, "refresh", domain.EntityTypeConnection, current.TenantID, nil, err)
		return nil, err
	}
	latest.ApplyToken(token, g.now())

	if err := g.store.Upsert(ctx, *latest); err != nil {
		err = domain.NewSyncError(domain.ErrPersistenceFailed, "save refreshed token", err)
		g.audit.RecordResult(ctx, userID, "refresh", domain.EntityTypeConnection, latest.TenantID, nil, err)
		return nil, err
	}

	if g.status != nil {
		g.status.Invalidate(userID)
	}
	logger.L().Debug("token refreshed", zap.String("user_id", userID), zap.Time("expires_at", latest.ExpiresAt))
	g.audit.RecordResult(ctx, userID, "refresh", domain.EntityTypeConnection, latest.TenantID,
		map[string]any{"expires_at": latest.ExpiresAt.UTC().Format(time.RFC3339)}, nil)
	return latest, nil
}
