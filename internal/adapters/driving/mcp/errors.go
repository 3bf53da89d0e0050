// Package mcp exposes the ledger over the Model Context Protocol so AI
// assistants can inspect and edit records for the configured user.
package mcp

import "errors"

// ErrMissingEntityService is returned when the entity service is not provided.
var ErrMissingEntityService = errors.New("mcp: entity service is required")

// ErrMissingUser is returned when no user is configured.
var ErrMissingUser = errors.New("mcp: user id is required")
