package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// FlowState is a step of the authorisation-code flow for one user.
type FlowState string

// Flow states. Connected and Failed are terminal.
const (
	FlowIdle                   FlowState = "idle"
	FlowAuthorizationRequested FlowState = "authorization_requested"
	FlowAwaitingCallback       FlowState = "awaiting_callback"
	FlowExchangingCode         FlowState = "exchanging_code"
	FlowFetchingMetadata       FlowState = "fetching_metadata"
	FlowConnected              FlowState = "connected"
	FlowFailed                 FlowState = "failed"
)

type pendingAuth struct {
	state       FlowState
	redirectURI string
}

// AuthorizationFlow runs the OAuth2 authorisation-code flow. The state
// parameter carries the initiating user ID, so the callback may arrive in
// any browser tab.
type AuthorizationFlow struct {
	oauth           driven.OAuthClient
	api             driven.AccountingAPI
	store           driven.ConnectionStore
	status          *StatusResolver
	audit           *OperationLogger
	defaultRedirect string
	now             func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingAuth
}

// NewAuthorizationFlow creates a flow. defaultRedirect is used when a
// caller does not supply a redirect URI.
func NewAuthorizationFlow(
	oauth driven.OAuthClient,
	api driven.AccountingAPI,
	store driven.ConnectionStore,
	status *StatusResolver,
	audit *OperationLogger,
	defaultRedirect string,
) *AuthorizationFlow {
	return &AuthorizationFlow{
		oauth:           oauth,
		api:             api,
		store:           store,
		status:          status,
		audit:           audit,
		defaultRedirect: defaultRedirect,
		now:             time.Now,
		pending:         make(map[string]*pendingAuth),
	}
}

// BuildAuthorizationURL returns the URL the browser must visit.
func (f *AuthorizationFlow) BuildAuthorizationURL(userID, redirectURI string) (string, error) {
	if userID == "" {
		return "", domain.NewSyncError(domain.ErrNotAuthenticated, "", nil)
	}
	if redirectURI == "" {
		redirectURI = f.defaultRedirect
	}
	if redirectURI == "" {
		return "", domain.NewSyncError(domain.ErrInvalidInput, "redirect URI is required", nil)
	}

	f.setState(userID, FlowAuthorizationRequested, redirectURI)
	authURL := f.oauth.AuthCodeURL(userID, redirectURI)
	f.setState(userID, FlowAwaitingCallback, redirectURI)
	return authURL, nil
}

// HandleCallback exchanges the code, fetches company metadata (best effort)
// and upserts the connection. redirectURI may be empty, in which case the
// one recorded when the flow started is used.
//
// A user whose flow this process is tracking must be awaiting a callback.
// Replays after completion and duplicate callbacks racing an exchange are
// rejected without disturbing the flow. Users with no tracked flow (started
// by another instance, or before a restart) are accepted.
func (f *AuthorizationFlow) HandleCallback(
	ctx context.Context, code, state, redirectURI, tenantID string,
) (*domain.Connection, error) {
	userID := state
	if userID == "" {
		return nil, domain.NewSyncError(domain.ErrNotAuthenticated, "callback state is empty", nil)
	}
	if redirectURI == "" {
		redirectURI = f.redirectFor(userID)
	}

	// reject leaves the tracked flow as it was.
	reject := func(err error) (*domain.Connection, error) {
		f.audit.RecordResult(ctx, userID, "connect", domain.EntityTypeConnection, tenantID, nil, err)
		return nil, err
	}
	fail := func(err error) (*domain.Connection, error) {
		f.setState(userID, FlowFailed, "")
		return reject(err)
	}

	if code == "" {
		return reject(domain.NewSyncError(domain.ErrExchangeFailed, "authorization code is missing", nil))
	}
	if tenantID == "" {
		return reject(domain.NewSyncError(domain.ErrExchangeFailed, "company id (realmId) is missing", nil))
	}
	if !f.claim(userID) {
		return reject(domain.NewSyncError(domain.ErrExchangeFailed, "no authorization is pending for this user", nil))
	}
	token, err := f.oauth.Exchange(ctx, code, redirectURI)
	if err != nil {
		return fail(err)
	}

	f.setState(userID, FlowFetchingMetadata, "")
	companyName, err := f.api.CompanyName(ctx, driven.Session{TenantID: tenantID, AccessToken: token.AccessToken})
	if err != nil {
		// Non-fatal: the connection is usable without a display name.
		logger.L().Warn("company metadata fetch failed",
			zap.String("user_id", userID),
			zap.Error(domain.NewSyncError(domain.ErrMetadataFetchFailed, "", err)))
		companyName = ""
	}

	conn := domain.Connection{
		UserID:      userID,
		TenantID:    tenantID,
		CompanyName: companyName,
	}
	conn.ApplyToken(token, f.now())

	if err := f.store.Upsert(ctx, conn); err != nil {
		return fail(domain.NewSyncError(domain.ErrPersistenceFailed, "the upstream grant was issued but could not be saved", err))
	}

	if err := f.status.MarkConnected(ctx, userID, companyName); err != nil {
		logger.L().Warn("grace flag mark failed", zap.String("user_id", userID), zap.Error(err))
	}

	f.setState(userID, FlowConnected, "")
	f.audit.RecordResult(ctx, userID, "connect", domain.EntityTypeConnection, tenantID,
		map[string]any{"company_name": companyName}, nil)
	return &conn, nil
}

// State returns the user's current flow state.
func (f *AuthorizationFlow) State(userID string) FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pending[userID]; ok {
		return p.state
	}
	return FlowIdle
}

// Reset returns the user's flow to idle.
func (f *AuthorizationFlow) Reset(userID string) {
	f.mu.Lock()
	delete(f.pending, userID)
	f.mu.Unlock()
}

func (f *AuthorizationFlow) setState(userID string, state FlowState, redirectURI string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[userID]
	if !ok || state == FlowAuthorizationRequested {
		p = &pendingAuth{}
		f.pending[userID] = p
	}
	p.state = state
	if redirectURI != "" {
		p.redirectURI = redirectURI
	}
}

// claim moves the user's flow to FlowExchangingCode. It fails when the flow
// is tracked and not awaiting a callback.
func (f *AuthorizationFlow) claim(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[userID]
	if !ok {
		p = &pendingAuth{}
		f.pending[userID] = p
	} else if p.state != FlowAwaitingCallback {
		return false
	}
	p.state = FlowExchangingCode
	return true
}

func (f *AuthorizationFlow) redirectFor(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pending[userID]; ok && p.redirectURI != "" {
		return p.redirectURI
	}
	return f.defaultRedirect
}
