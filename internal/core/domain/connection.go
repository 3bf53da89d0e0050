package domain

import "time"

// DefaultTokenType is the bearer scheme used when the token endpoint omits one.
const DefaultTokenType = "bearer"

// Connection stores one user's OAuth grant against one accounting tenant.
// There is at most one Connection per UserID. A missing row means the user
// is not connected; a row whose ExpiresAt is in the past is connected but
// needs a refresh before use.
type Connection struct {
	// UserID owns the connection. Immutable.
	UserID string `json:"user_id"`

	// TenantID is the upstream company (realm) identifier.
	TenantID string `json:"tenant_id"`

	// AccessToken is the short-lived bearer token for API access.
	AccessToken string `json:"-"`
	// RefreshToken is the long-lived token used to obtain new access tokens.
	// The upstream rotates it on refresh.
	RefreshToken string `json:"-"`
	// TokenType is typically "bearer".
	TokenType string `json:"token_type"`
	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time `json:"expires_at"`

	// CompanyName is the tenant display name, fetched after authorisation.
	// Empty when the metadata lookup failed.
	CompanyName string `json:"company_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired returns true if the access token expired at or before now.
func (c *Connection) IsExpired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin returns true if the access token expires less than d after now.
func (c *Connection) ExpiresWithin(d time.Duration, now time.Time) bool {
	return c.ExpiresAt.Sub(now) <= d
}

// HasRefreshToken returns true if a refresh token is available.
func (c *Connection) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// ApplyToken replaces the token fields with a freshly issued token.
// A rotated refresh token always replaces the stored one; an empty
// refresh token in the response keeps the current value.
func (c *Connection) ApplyToken(t *OAuthToken, now time.Time) {
	c.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
	}
	c.TokenType = t.TokenType
	if c.TokenType == "" {
		c.TokenType = DefaultTokenType
	}
	c.ExpiresAt = t.Expiry
	c.UpdatedAt = now
}

// OAuthToken is the result of a code exchange or refresh.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// Expiry is now + expires_in as reported by the token endpoint.
	Expiry time.Time
}
