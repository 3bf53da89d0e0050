// Package file provides the file-backed configuration adapters.
//
// Adapters:
//   - ConfigStore: TOML file at ~/.ledgersync/config.toml
//   - EnvStore: LEDGERSYNC_* environment overrides, optionally loaded from .env
package file
