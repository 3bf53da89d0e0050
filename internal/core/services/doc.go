// Package services implements the driving port interfaces.
// Services contain the connection lifecycle and entity sync logic and
// orchestrate calls to driven ports (adapters).
//
// The main pieces are:
//   - OperationLogger writes one audit entry per upstream call
//   - TokenGuard keeps access tokens usable, refreshing when close to expiry
//   - StatusResolver answers "is this user connected" with caching
//   - AuthorizationFlow runs the OAuth2 authorisation-code flow
//   - EntitySync and BulkDeleter perform record operations
//
// ConnectionService, EntityService, TransferService and AuditService
// expose them to driving adapters.
package services
