package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyUserID           = "user_id"
	keyClientID         = "oauth.client_id"
	keyClientSecret     = "oauth.client_secret"
	keyAuthURL          = "oauth.auth_url"
	keyTokenURL         = "oauth.token_url"
	keyRevokeURL        = "oauth.revoke_url"
	keyScopes           = "oauth.scopes"
	keyRedirectURI      = "oauth.redirect_uri"
	keyAPIBaseURL       = "api.base_url"
	keyAPISandbox       = "api.sandbox"
	keyMinorVersion     = "api.minor_version"
	keyRequestTimeout   = "api.request_timeout"
	keyMaxResults       = "api.max_results"
	keyRatePerSecond    = "api.rate_per_second"
	keyRefreshThreshold = "windows.refresh_threshold"
	keyStatusFreshness  = "windows.status_freshness"
	keyGraceWindow      = "windows.grace_window"
	keyStorageDriver    = "storage.driver"
	keyStorageDataDir   = "storage.data_dir"
	keyStorageDSN       = "storage.dsn"
	keyGraceBackend     = "grace.backend"
	keyRedisAddr        = "grace.redis_addr"
	keyRedisPassword    = "grace.redis_password"
	keyRedisDB          = "grace.redis_db"
	keyServerAddr       = "server.addr"
	keyJWTSecret        = "server.jwt_secret"
	keySchedulerEnabled = "scheduler.enabled"
	keyRefreshSchedule  = "scheduler.token_refresh"
	settingKindString   = "string"
	settingKindInt      = "int"
	settingKindFloat    = "float"
	settingKindBool     = "bool"
	settingKindDuration = "duration"
	settingKindList     = "list"
	maskedSecret        = "********"
)

var settingKeys = []driving.SettingKey{
	{Key: keyUserID, Kind: settingKindString, Description: "local user the CLI acts as"},
	{Key: keyClientID, Kind: settingKindString, Description: "OAuth client ID"},
	{Key: keyClientSecret, Kind: settingKindString, Description: "OAuth client secret", Secret: true},
	{Key: keyAuthURL, Kind: settingKindString, Description: "authorisation endpoint"},
	{Key: keyTokenURL, Kind: settingKindString, Description: "token endpoint"},
	{Key: keyRevokeURL, Kind: settingKindString, Description: "revocation endpoint"},
	{Key: keyScopes, Kind: settingKindList, Description: "requested scopes"},
	{Key: keyRedirectURI, Kind: settingKindString, Description: "registered redirect URI"},
	{Key: keyAPIBaseURL, Kind: settingKindString, Description: "accounting API base URL"},
	{Key: keyAPISandbox, Kind: settingKindBool, Description: "use the sandbox API when no base URL is set"},
	{Key: keyMinorVersion, Kind: settingKindInt, Description: "API minor version"},
	{Key: keyRequestTimeout, Kind: settingKindDuration, Description: "per-operation timeout"},
	{Key: keyMaxResults, Kind: settingKindInt, Description: "query page size (1-1000)"},
	{Key: keyRatePerSecond, Kind: settingKindFloat, Description: "request rate per company, 0 for none"},
	{Key: keyRefreshThreshold, Kind: settingKindDuration, Description: "refresh tokens expiring within"},
	{Key: keyStatusFreshness, Kind: settingKindDuration, Description: "status cache lifetime"},
	{Key: keyGraceWindow, Kind: settingKindDuration, Description: "post-authorisation grace window"},
	{Key: keyStorageDriver, Kind: settingKindString, Description: "sqlite, postgres or memory"},
	{Key: keyStorageDataDir, Kind: settingKindString, Description: "sqlite data directory"},
	{Key: keyStorageDSN, Kind: settingKindString, Description: "postgres connection string", Secret: true},
	{Key: keyGraceBackend, Kind: settingKindString, Description: "memory or redis"},
	{Key: keyRedisAddr, Kind: settingKindString, Description: "redis address"},
	{Key: keyRedisPassword, Kind: settingKindString, Description: "redis password", Secret: true},
	{Key: keyRedisDB, Kind: settingKindInt, Description: "redis database"},
	{Key: keyServerAddr, Kind: settingKindString, Description: "HTTP listen address"},
	{Key: keyJWTSecret, Kind: settingKindString, Description: "HS256 key for identity tokens", Secret: true},
	{Key: keySchedulerEnabled, Kind: settingKindBool, Description: "run background tasks in serve"},
	{Key: keyRefreshSchedule, Kind: settingKindString, Description: "proactive refresh cron spec"},
}

// SettingsService reads and writes application settings through a
// ConfigStore.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings and validates them.
func (s *SettingsService) Get() (domain.Settings, error) {
	d := domain.DefaultSettings()

	settings := domain.Settings{
		UserID: s.getString(keyUserID, d.UserID),
		OAuth: domain.OAuthSettings{
			ClientID:     s.configStore.GetString(keyClientID),
			ClientSecret: s.configStore.GetString(keyClientSecret),
			AuthURL:      s.getString(keyAuthURL, d.OAuth.AuthURL),
			TokenURL:     s.getString(keyTokenURL, d.OAuth.TokenURL),
			RevokeURL:    s.getString(keyRevokeURL, d.OAuth.RevokeURL),
			Scopes:       s.getStrings(keyScopes, d.OAuth.Scopes),
			RedirectURI:  s.configStore.GetString(keyRedirectURI),
		},
		API: domain.APISettings{
			BaseURL:        s.getString(keyAPIBaseURL, d.API.BaseURL),
			MinorVersion:   s.getInt(keyMinorVersion, d.API.MinorVersion),
			RequestTimeout: s.getDuration(keyRequestTimeout, d.API.RequestTimeout),
			MaxResults:     s.getInt(keyMaxResults, d.API.MaxResults),
			RatePerSecond:  s.getFloat(keyRatePerSecond, d.API.RatePerSecond),
		},
		Windows: domain.WindowSettings{
			RefreshThreshold: s.getDuration(keyRefreshThreshold, d.Windows.RefreshThreshold),
			StatusFreshness:  s.getDuration(keyStatusFreshness, d.Windows.StatusFreshness),
			GraceWindow:      s.getDuration(keyGraceWindow, d.Windows.GraceWindow),
		},
		Storage: domain.StorageSettings{
			Driver:  domain.StorageDriver(s.getString(keyStorageDriver, string(d.Storage.Driver))),
			DataDir: s.configStore.GetString(keyStorageDataDir),
			DSN:     s.configStore.GetString(keyStorageDSN),
		},
		Grace: domain.GraceSettings{
			Backend:       domain.GraceBackend(s.getString(keyGraceBackend, string(d.Grace.Backend))),
			RedisAddr:     s.configStore.GetString(keyRedisAddr),
			RedisPassword: s.configStore.GetString(keyRedisPassword),
			RedisDB:       s.configStore.GetInt(keyRedisDB),
		},
		Server: domain.ServerSettings{
			Addr:      s.getString(keyServerAddr, d.Server.Addr),
			JWTSecret: s.configStore.GetString(keyJWTSecret),
		},
		Scheduler: d.Scheduler,
	}

	if s.configStore.GetString(keyAPIBaseURL) == "" && s.getBool(keyAPISandbox, false) {
		settings.API.BaseURL = domain.SandboxAPIBaseURL
	}
	settings.Scheduler.Enabled = s.getBool(keySchedulerEnabled, d.Scheduler.Enabled)
	if spec := s.configStore.GetString(keyRefreshSchedule); spec != "" {
		settings.Scheduler.TaskConfigs = map[string]domain.TaskConfig{
			domain.TaskIDTokenRefresh: {Enabled: true, Schedule: spec},
		}
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Value returns the stored or default value of key as text.
func (s *SettingsService) Value(key string) (string, error) {
	k, ok := lookupSetting(key)
	if !ok {
		return "", fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	v, ok := s.configStore.Get(key)
	if !ok {
		return "", nil
	}
	if k.Secret {
		return maskedSecret, nil
	}
	if list, ok := v.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ","), nil
	}
	return fmt.Sprint(v), nil
}

// Set parses value according to the key's kind and stores it.
func (s *SettingsService) Set(key, value string) error {
	k, ok := lookupSetting(key)
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	var parsed any
	var err error
	switch k.Kind {
	case settingKindInt:
		parsed, err = strconv.Atoi(value)
	case settingKindFloat:
		parsed, err = strconv.ParseFloat(value, 64)
	case settingKindBool:
		parsed, err = strconv.ParseBool(value)
	case settingKindDuration:
		_, err = time.ParseDuration(value)
		parsed = value
	case settingKindList:
		parsed = splitList(value)
	default:
		parsed = value
	}
	if err != nil {
		return fmt.Errorf("%w: %s expects a %s: %v", domain.ErrInvalidInput, key, k.Kind, err)
	}

	if err := s.configStore.Set(key, parsed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Keys lists every configurable key.
func (s *SettingsService) Keys() []driving.SettingKey {
	out := make([]driving.SettingKey, len(settingKeys))
	copy(out, settingKeys)
	return out
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

func lookupSetting(key string) (driving.SettingKey, bool) {
	for _, k := range settingKeys {
		if k.Key == key {
			return k, true
		}
	}
	return driving.SettingKey{}, false
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

// getFloat treats an explicit 0 as a value, since 0 disables throttling.
func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetBool(key)
}

func (s *SettingsService) getStrings(key string, defaultVal []string) []string {
	val := s.configStore.GetStringSlice(key)
	if len(val) == 0 {
		return defaultVal
	}
	return val
}

// getDuration accepts "90s" style strings or whole seconds.
func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	if str := s.configStore.GetString(key); str != "" {
		if d, err := time.ParseDuration(str); err == nil && d > 0 {
			return d
		}
		return defaultVal
	}
	if n := s.configStore.GetInt(key); n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
