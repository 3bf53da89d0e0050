package file

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGERSYNC_"

// Ensure EnvStore implements the interface.
var _ driven.ConfigStore = (*EnvStore)(nil)

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// EnvName returns the environment variable that overrides key:
// "oauth.client_id" is LEDGERSYNC_OAUTH_CLIENT_ID.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// EnvStore layers environment variables over another store. Reads check
// the environment first; writes go to the underlying store.
type EnvStore struct {
	driven.ConfigStore
	lookup func(string) (string, bool)
}

// NewEnvStore wraps base.
func NewEnvStore(base driven.ConfigStore) *EnvStore {
	return &EnvStore{ConfigStore: base, lookup: os.LookupEnv}
}

func (s *EnvStore) env(key string) (string, bool) {
	return s.lookup(EnvName(key))
}

// Get returns the environment value as a string when set.
func (s *EnvStore) Get(key string) (any, bool) {
	if v, ok := s.env(key); ok {
		return v, true
	}
	return s.ConfigStore.Get(key)
}

// GetString retrieves a string configuration value.
func (s *EnvStore) GetString(key string) string {
	if v, ok := s.env(key); ok {
		return v
	}
	return s.ConfigStore.GetString(key)
}

// GetInt retrieves an integer configuration value.
func (s *EnvStore) GetInt(key string) int {
	if v, ok := s.env(key); ok {
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return s.ConfigStore.GetInt(key)
}

// GetFloat retrieves a numeric configuration value.
func (s *EnvStore) GetFloat(key string) float64 {
	if v, ok := s.env(key); ok {
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return s.ConfigStore.GetFloat(key)
}

// GetBool retrieves a boolean configuration value.
func (s *EnvStore) GetBool(key string) bool {
	if v, ok := s.env(key); ok {
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return s.ConfigStore.GetBool(key)
}

// GetStringSlice splits a comma or space separated environment value.
func (s *EnvStore) GetStringSlice(key string) []string {
	if v, ok := s.env(key); ok {
		return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return s.ConfigStore.GetStringSlice(key)
}
