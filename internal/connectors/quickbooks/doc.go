// Package quickbooks implements driven.AccountingAPI against the
// QuickBooks Online accounting REST API.
//
// Records are exchanged as loosely-typed JSON (domain.Record). Queries use
// the API's SQL-like query language, built from domain.Query values with
// quoted literals. Upstream faults are translated into domain.SyncError so
// that callers can tell stale sync tokens and blocked deletions from other
// rejections.
package quickbooks
