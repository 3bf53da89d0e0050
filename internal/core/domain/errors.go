package domain

import (
	"errors"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an entity type missing from the catalog.
	ErrUnsupportedType = errors.New("unsupported entity type")

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// Connection Errors.

	// ErrNotAuthenticated indicates there is no valid user session, or the
	// upstream rejected the access token.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoConnection indicates the user has no stored connection.
	ErrNoConnection = errors.New("no connection")

	// ErrExchangeFailed indicates the authorisation code was invalid, expired
	// or already used. Not retryable with the same code.
	ErrExchangeFailed = errors.New("authorisation code exchange failed")

	// ErrRefreshFailed indicates a token refresh failed.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrMetadataFetchFailed indicates the company metadata lookup failed.
	// Never surfaced to users.
	ErrMetadataFetchFailed = errors.New("metadata fetch failed")

	// ErrPersistenceFailed indicates a connection could not be written.
	ErrPersistenceFailed = errors.New("persistence failed")

	// Upstream Errors.

	// ErrUpstreamRejected indicates the accounting API returned an error.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	// ErrStaleSyncToken indicates the record changed since its sync token was read.
	ErrStaleSyncToken = errors.New("stale sync token")

	// ErrDependencyConflict indicates a deletion was blocked by linked records.
	ErrDependencyConflict = errors.New("dependency conflict")
)

// Human-readable causes for ErrDependencyConflict.
const (
	CauseLinkedPayments = "has linked payments"
	CauseInventoryDate  = "inventory date conflict"
	CauseAlreadyDeleted = "already deleted"
)

// ErrorKind is the stable, serialisable name of a failure class.
type ErrorKind string

// Error kinds reported to callers.
const (
	KindNotAuthenticated    ErrorKind = "not_authenticated"
	KindNoConnection        ErrorKind = "no_connection"
	KindExchangeFailed      ErrorKind = "exchange_failed"
	KindRefreshFailed       ErrorKind = "refresh_failed"
	KindMetadataFetchFailed ErrorKind = "metadata_fetch_failed"
	KindPersistenceFailed   ErrorKind = "persistence_failed"
	KindUpstreamRejected    ErrorKind = "upstream_rejected"
	KindStaleSyncToken      ErrorKind = "stale_sync_token"
	KindDependencyConflict  ErrorKind = "dependency_conflict"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindUnknown             ErrorKind = "unknown"
)

// kindOrder is checked in sequence by Classify.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotAuthenticated, KindNotAuthenticated},
	{ErrNoConnection, KindNoConnection},
	{ErrExchangeFailed, KindExchangeFailed},
	{ErrRefreshFailed, KindRefreshFailed},
	{ErrMetadataFetchFailed, KindMetadataFetchFailed},
	{ErrPersistenceFailed, KindPersistenceFailed},
	{ErrStaleSyncToken, KindStaleSyncToken},
	{ErrDependencyConflict, KindDependencyConflict},
	{ErrUpstreamRejected, KindUpstreamRejected},
	{ErrRateLimited, KindUpstreamRejected},
	{ErrInvalidInput, KindInvalidInput},
	{ErrUnsupportedType, KindInvalidInput},
}

// SyncError carries a taxonomy sentinel together with the upstream detail.
// errors.Is matches against Kind.
type SyncError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Message is the upstream or underlying message, passed through as-is.
	Message string
	// Cause is a human-readable reason, set for dependency conflicts.
	Cause string
	// Reconnect is set when the user must re-authorise (revoked or expired
	// refresh grant), as opposed to retrying later.
	Reconnect bool
	// Err is the underlying error, if any.
	Err error
}

// NewSyncError wraps err under kind.
func NewSyncError(kind error, message string, err error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Err: err}
}

func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Cause != "" {
		b.WriteString(": ")
		b.WriteString(e.Cause)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the wrapped sentinel.
func (e *SyncError) Is(target error) bool {
	return e.Kind == target
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Classify maps any error onto the failure taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// NeedsReconnect returns true if err means the user must authorise again
// rather than retry.
func NeedsReconnect(err error) bool {
	var se *SyncError
	if errors.As(err, &se) && se.Reconnect {
		return true
	}
	return errors.Is(err, ErrNoConnection)
}

// UserMessage renders err for display. Reconnect-class failures always read
// as a prompt to reconnect.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if NeedsReconnect(err) {
		return "please reconnect your accounting company"
	}
	var se *SyncError
	if errors.As(err, &se) {
		if se.Cause != "" {
			return se.Cause
		}
		if se.Message != "" {
			return se.Message
		}
	}
	return err.Error()
}
