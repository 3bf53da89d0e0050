// Package domain defines the core business entities for ledgersync.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Connection: A user's OAuth grant against one accounting tenant
//   - EntityDescriptor: A logical entity type and the physical type it maps to
//   - Record: An open map holding one upstream record
//   - OperationLogEntry: The audit trail of upstream calls
//   - StatusSnapshot: The cached connection verdict for a user
//   - DeleteBatchProgress: Progress of one bulk delete
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
