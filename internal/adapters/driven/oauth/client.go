// Package oauth implements driven.OAuthClient against an OAuth2
// authorisation server that authenticates clients with HTTP Basic.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Config holds the registered OAuth application.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	Scopes       []string

	// HTTPClient is used for token and revoke calls. Defaults to a client
	// with a 30 second timeout.
	HTTPClient *http.Client
}

// Client implements driven.OAuthClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ driven.OAuthClient = (*Client)(nil)

// NewClient creates an OAuth client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// config returns the oauth2 configuration for one redirect URI.
func (c *Client) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthURL,
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		RedirectURL: redirectURI,
		Scopes:      c.cfg.Scopes,
	}
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the authorisation redirect.
func (c *Client) AuthCodeURL(state, redirectURI string) string {
	return c.config(redirectURI).AuthCodeURL(state)
}

// Exchange trades an authorisation code for tokens.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (*domain.OAuthToken, error) {
	tok, err := c.config(redirectURI).Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, tokenError(domain.ErrExchangeFailed, err)
	}
	return fromOAuth2(tok), nil
}

// Refresh obtains a new token pair using the refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.OAuthToken, error) {
	if refreshToken == "" {
		return nil, &domain.SyncError{Kind: domain.ErrRefreshFailed, Message: "no refresh token", Reconnect: true}
	}
	// An empty access token is never valid, so Token always calls the endpoint.
	src := c.config("").TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenError(domain.ErrRefreshFailed, err)
	}
	return fromOAuth2(tok), nil
}

func fromOAuth2(tok *oauth2.Token) *domain.OAuthToken {
	return &domain.OAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// reconnectCodes are token endpoint errors that no retry can fix.
var reconnectCodes = map[string]bool{
	"invalid_grant":       true,
	"unauthorized_client": true,
}

// tokenError wraps a token endpoint failure under kind, keeping the
// upstream error body.
func tokenError(kind error, err error) *domain.SyncError {
	se := &domain.SyncError{Kind: kind, Message: err.Error(), Err: err}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return se
	}
	switch {
	case re.ErrorCode != "" && re.ErrorDescription != "":
		se.Message = fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription)
	case re.ErrorCode != "":
		se.Message = re.ErrorCode
	case len(re.Body) > 0:
		se.Message = string(re.Body)
	}
	se.Reconnect = reconnectCodes[re.ErrorCode]
	return se
}
