package domain

import "time"

// Default upstream endpoints.
const (
	DefaultAuthURL    = "https://appcenter.intuit.com/connect/oauth2"
	DefaultTokenURL   = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultRevokeURL  = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	DefaultAPIBaseURL = "https://quickbooks.api.intuit.com"
	SandboxAPIBaseURL = "https://sandbox-quickbooks.api.intuit.com"
	DefaultScope      = "com.intuit.quickbooks.accounting"
)

// StorageDriver selects the connection and audit log backend.
type StorageDriver string

// Storage drivers.
const (
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

// IsValid returns true if the driver is recognised.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageSQLite, StoragePostgres, StorageMemory:
		return true
	default:
		return false
	}
}

// GraceBackend selects where post-authorisation grace flags live.
type GraceBackend string

// Grace backends.
const (
	GraceMemory GraceBackend = "memory"
	GraceRedis  GraceBackend = "redis"
)

// OAuthSettings holds the registered OAuth application.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	Scopes       []string
	// RedirectURI is used by completeConnection when the flow did not record one.
	RedirectURI string
}

// APISettings configures the accounting API client.
type APISettings struct {
	BaseURL        string
	MinorVersion   int
	RequestTimeout time.Duration
	MaxResults     int
	// RatePerSecond bounds outgoing requests. Zero disables throttling.
	RatePerSecond float64
}

// WindowSettings holds the timing windows. The defaults are starting
// values, not contracts.
type WindowSettings struct {
	RefreshThreshold time.Duration
	StatusFreshness  time.Duration
	GraceWindow      time.Duration
}

// StorageSettings configures persistence.
type StorageSettings struct {
	Driver  StorageDriver
	DataDir string
	DSN     string
}

// GraceSettings configures the grace flag backend.
type GraceSettings struct {
	Backend       GraceBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Addr      string
	JWTSecret string
}

// Settings is the full application configuration.
type Settings struct {
	// UserID identifies the local CLI user.
	UserID string

	OAuth     OAuthSettings
	API       APISettings
	Windows   WindowSettings
	Storage   StorageSettings
	Grace     GraceSettings
	Server    ServerSettings
	Scheduler SchedulerConfig
}

// DefaultUserID is the user the CLI acts as when none is configured.
const DefaultUserID = "local"

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		UserID: DefaultUserID,
		OAuth: OAuthSettings{
			AuthURL:   DefaultAuthURL,
			TokenURL:  DefaultTokenURL,
			RevokeURL: DefaultRevokeURL,
			Scopes:    []string{DefaultScope},
		},
		API: APISettings{
			BaseURL:        DefaultAPIBaseURL,
			MinorVersion:   75,
			RequestTimeout: 30 * time.Second,
			MaxResults:     1000,
			RatePerSecond:  8,
		},
		Windows: WindowSettings{
			RefreshThreshold: 5 * time.Minute,
			StatusFreshness:  30 * time.Second,
			GraceWindow:      30 * time.Second,
		},
		Storage: StorageSettings{
			Driver: StorageSQLite,
		},
		Grace: GraceSettings{
			Backend: GraceMemory,
		},
		Server: ServerSettings{
			Addr: "127.0.0.1:8420",
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Validate checks that the settings can start the application.
func (s Settings) Validate() error {
	if !s.Storage.Driver.IsValid() {
		return NewSyncError(ErrInvalidInput, "unknown storage driver "+string(s.Storage.Driver), nil)
	}
	if s.Storage.Driver == StoragePostgres && s.Storage.DSN == "" {
		return NewSyncError(ErrInvalidInput, "postgres storage requires a DSN", nil)
	}
	if s.Grace.Backend == GraceRedis && s.Grace.RedisAddr == "" {
		return NewSyncError(ErrInvalidInput, "redis grace backend requires an address", nil)
	}
	if s.API.MaxResults <= 0 || s.API.MaxResults > 1000 {
		return NewSyncError(ErrInvalidInput, "max results must be between 1 and 1000", nil)
	}
	return nil
}

// HasOAuthApp returns true if client credentials are configured.
func (s Settings) HasOAuthApp() bool {
	return s.OAuth.ClientID != "" && s.OAuth.ClientSecret != ""
}
