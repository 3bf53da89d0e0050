// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - ConnectionStore: One OAuth connection row per user
//   - OperationLogStore: Append-only audit log
//   - OAuthClient: Authorisation URL, code exchange, refresh and revoke
//   - AccountingAPI: Query, read, create and update upstream records
//   - GraceStore: Short-lived post-authorisation flags
//
// # Optional Interfaces
//
//   - RecordExporter / RecordImporter: Spreadsheet transfer. Export and
//     import are disabled without them.
//   - SchedulerStore: Task state. Without it the scheduler keeps no history.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
