package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func TestAuthorizationFlow_BuildURL(t *testing.T) {
	h := newHarness(t)

	raw, err := h.conns.Connect(context.Background(), "u1", "http://localhost:9999/cb")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Query().Get("state"))
	assert.Equal(t, "http://localhost:9999/cb", u.Query().Get("redirect_uri"))
	assert.Equal(t, FlowAwaitingCallback, h.flow.State("u1"))
}

func TestAuthorizationFlow_BuildURLDefaults(t *testing.T) {
	h := newHarness(t)

	raw, err := h.flow.BuildAuthorizationURL("u1", "")
	require.NoError(t, err)
	assert.Contains(t, raw, "redirect_uri=http://localhost:8420/callback")

	_, err = h.flow.BuildAuthorizationURL("", "http://x")
	assert.True(t, errors.Is(err, domain.ErrNotAuthenticated))

	h.flow.defaultRedirect = ""
	_, err = h.flow.BuildAuthorizationURL("u1", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestAuthorizationFlow_CompleteConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.conns.Connect(ctx, "u1", "")
	require.NoError(t, err)

	res := h.conns.CompleteConnection(ctx, "code-1", "u1", "realm-1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Craig's Design and Landscaping", res.CompanyName)
	assert.Equal(t, FlowConnected, h.flow.State("u1"))

	conn, err := h.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "realm-1", conn.TenantID)
	assert.Equal(t, "access-1", conn.AccessToken)
	assert.Equal(t, "refresh-1", conn.RefreshToken)
	assert.Equal(t, h.clock.Now().Add(time.Hour), conn.ExpiresAt)

	entry := h.lastLog(t)
	assert.Equal(t, domain.EntityTypeConnection, entry.EntityType)
	assert.Equal(t, domain.OpStatusSuccess, entry.Status)
}

func TestAuthorizationFlow_OneConnectionPerUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i, tenant := range []string{"realm-1", "realm-2", "realm-2"} {
		_, err := h.conns.Connect(ctx, "u1", "")
		require.NoError(t, err)
		res := h.conns.CompleteConnection(ctx, "code", "u1", tenant)
		require.True(t, res.Success, "attempt %d: %s", i, res.Error)
	}

	assert.Equal(t, 1, h.store.Len())
	conn, err := h.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "realm-2", conn.TenantID)
	assert.Equal(t, "access-3", conn.AccessToken)
}

func TestAuthorizationFlow_CallbackInAnotherTab(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Started for u1, completed with only the state echoed back.
	_, err := h.conns.Connect(ctx, "u1", "http://localhost:1/cb")
	require.NoError(t, err)
	_, err = h.conns.Connect(ctx, "u2", "http://localhost:2/cb")
	require.NoError(t, err)

	assert.True(t, h.conns.CompleteConnection(ctx, "code", "u2", "realm-2").Success)
	assert.True(t, h.conns.CompleteConnection(ctx, "code", "u1", "realm-1").Success)

	c1, err := h.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "realm-1", c1.TenantID)
}

func TestAuthorizationFlow_MetadataFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.api.companyErr = errBoom

	res := h.conns.CompleteConnection(context.Background(), "code", "u1", "realm-1")
	require.True(t, res.Success)
	assert.Empty(t, res.CompanyName)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, h.store.Len())
}

func TestAuthorizationFlow_ExchangeFailure(t *testing.T) {
	h := newHarness(t)

	res := h.conns.CompleteConnection(context.Background(), "used", "u1", "realm-1")
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindExchangeFailed, res.Kind)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, FlowFailed, h.flow.State("u1"))
	assert.Equal(t, 0, h.store.Len())

	entry := h.lastLog(t)
	assert.Equal(t, domain.OpStatusError, entry.Status)
}

func TestAuthorizationFlow_MissingParameters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.conns.CompleteConnection(ctx, "", "u1", "realm-1")
	assert.Equal(t, domain.KindExchangeFailed, res.Kind)

	res = h.conns.CompleteConnection(ctx, "code", "u1", "")
	assert.Equal(t, domain.KindExchangeFailed, res.Kind)

	res = h.conns.CompleteConnection(ctx, "code", "", "realm-1")
	assert.Equal(t, domain.KindNotAuthenticated, res.Kind)

	assert.Equal(t, int32(0), h.oauth.exchangeCalls.Load())
}

func TestAuthorizationFlow_PersistenceFailureIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.store.upsertErr = errBoom

	res := h.conns.CompleteConnection(context.Background(), "code", "u1", "realm-1")
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindPersistenceFailed, res.Kind)
	assert.False(t, h.status.CheckStatus(context.Background(), "u1", false).Connected())
}

func TestAuthorizationFlow_RejectsCallbackNotAwaited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.conns.Connect(ctx, "u1", "")
	require.NoError(t, err)
	require.True(t, h.conns.CompleteConnection(ctx, "code-1", "u1", "realm-1").Success)

	// Replaying the callback after completion must not rebind the user.
	res := h.conns.CompleteConnection(ctx, "code-2", "u1", "realm-evil")
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindExchangeFailed, res.Kind)
	assert.Equal(t, int32(1), h.oauth.exchangeCalls.Load())
	assert.Equal(t, FlowConnected, h.flow.State("u1"))

	conn, err := h.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "realm-1", conn.TenantID)
	assert.Equal(t, domain.OpStatusError, h.lastLog(t).Status)

	// A malformed callback does not spoil a flow that is still waiting.
	_, err = h.conns.Connect(ctx, "u2", "")
	require.NoError(t, err)
	assert.False(t, h.conns.CompleteConnection(ctx, "", "u2", "realm-2").Success)
	assert.Equal(t, FlowAwaitingCallback, h.flow.State("u2"))
	assert.True(t, h.conns.CompleteConnection(ctx, "code", "u2", "realm-2").Success)
}

func TestAuthorizationFlow_DuplicateCallbackDuringExchange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.conns.Connect(ctx, "u1", "")
	require.NoError(t, err)
	require.True(t, h.flow.claim("u1"))
	assert.Equal(t, FlowExchangingCode, h.flow.State("u1"))

	res := h.conns.CompleteConnection(ctx, "code", "u1", "realm-1")
	assert.False(t, res.Success)
	assert.Equal(t, FlowExchangingCode, h.flow.State("u1"))
	assert.Equal(t, int32(0), h.oauth.exchangeCalls.Load())
}
