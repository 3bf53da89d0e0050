package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// Ensure ConnectionService implements the interface.
var _ driving.ConnectionService = (*ConnectionService)(nil)

// ConnectionService is the outbound facade for the connection lifecycle.
// Failures are returned as structured results, never as panics or bare errors.
type ConnectionService struct {
	flow   *AuthorizationFlow
	status *StatusResolver
	store  driven.ConnectionStore
	oauth  driven.OAuthClient
	audit  *OperationLogger
}

// NewConnectionService creates the facade.
func NewConnectionService(
	flow *AuthorizationFlow,
	status *StatusResolver,
	store driven.ConnectionStore,
	oauth driven.OAuthClient,
	audit *OperationLogger,
) *ConnectionService {
	return &ConnectionService{
		flow:   flow,
		status: status,
		store:  store,
		oauth:  oauth,
		audit:  audit,
	}
}

// Connect returns the authorisation URL for userID.
func (s *ConnectionService) Connect(_ context.Context, userID, redirectURI string) (string, error) {
	return s.flow.BuildAuthorizationURL(userID, redirectURI)
}

// CompleteConnection finishes the flow started by Connect.
func (s *ConnectionService) CompleteConnection(ctx context.Context, code, state, tenantID string) driving.Result {
	conn, err := s.flow.HandleCallback(ctx, code, state, "", tenantID)
	if err != nil {
		return driving.FailureResult(err)
	}
	return driving.Result{Success: true, CompanyName: conn.CompanyName}
}

// GetStatus reports whether userID is connected.
func (s *ConnectionService) GetStatus(ctx context.Context, userID string) driving.StatusResult {
	snap := s.status.CheckStatus(ctx, userID, false)
	return driving.StatusResult{
		Connected:   snap.Connected(),
		Status:      snap.Status,
		CompanyName: snap.CompanyName,
		Error:       snap.Error,
	}
}

// Disconnect revokes the grant upstream (best effort) and deletes the
// local connection. A missing connection is not an error.
func (s *ConnectionService) Disconnect(ctx context.Context, userID string) driving.Result {
	if userID == "" {
		return driving.FailureResult(domain.NewSyncError(domain.ErrNotAuthenticated, "", nil))
	}

	conn, err := s.store.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		conn = nil
	case err != nil:
		err = domain.NewSyncError(domain.ErrPersistenceFailed, "load connection", err)
		s.audit.RecordResult(ctx, userID, "disconnect", domain.EntityTypeConnection, "", nil, err)
		return driving.FailureResult(err)
	}

	tenantID := ""
	if conn != nil {
		tenantID = conn.TenantID
		token := conn.RefreshToken
		if token == "" {
			token = conn.AccessToken
		}
		if rerr := s.oauth.Revoke(ctx, token); rerr != nil {
			logger.L().Warn("token revoke failed, disconnecting locally",
				zap.String("user_id", userID), zap.Error(rerr))
		}
	}

	if err := s.store.Delete(ctx, userID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.status.Invalidate(userID)
		err = domain.NewSyncError(domain.ErrPersistenceFailed, "delete connection", err)
		s.audit.RecordResult(ctx, userID, "disconnect", domain.EntityTypeConnection, tenantID, nil, err)
		return driving.FailureResult(err)
	}

	s.status.MarkDisconnected(ctx, userID)
	s.flow.Reset(userID)
	s.audit.RecordResult(ctx, userID, "delete", domain.EntityTypeConnection, tenantID, nil, nil)
	return driving.Result{Success: true}
}

// Subscribe streams status changes for userID.
func (s *ConnectionService) Subscribe(userID string) (<-chan domain.StatusSnapshot, func()) {
	return s.status.Subscribe(userID)
}
