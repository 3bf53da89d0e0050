package driving

import "github.com/custodia-labs/ledgersync/internal/core/domain"

// SettingKey describes one configurable key.
type SettingKey struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Secret      bool   `json:"secret,omitempty"`
}

// SettingsService manages application settings.
type SettingsService interface {
	// Get returns the effective settings: defaults overlaid by stored values.
	Get() (domain.Settings, error)

	// Value returns the effective value of one key rendered as text.
	// Secrets are masked.
	Value(key string) (string, error)

	// Set parses value for key and persists it.
	Set(key, value string) error

	// Keys lists the configurable keys in display order.
	Keys() []SettingKey

	// GetDefaults returns default settings.
	GetDefaults() domain.Settings
}
