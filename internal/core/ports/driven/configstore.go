package driven

// ConfigStore holds settings under dotted keys such as "oauth.client_id".
// Typed getters return the zero value when a key is missing or holds another
// type; numeric getters accept any integer or float and convert.
type ConfigStore interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetInt(key string) int
	GetFloat(key string) float64
	GetBool(key string) bool
	// GetStringSlice keeps only the string items of a list.
	GetStringSlice(key string) []string

	// Set persists immediately in file-backed stores.
	Set(key string, value any) error
	Save() error
	Load() error

	// Path is the backing file, or ":memory:".
	Path() string
}
