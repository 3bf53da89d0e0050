package quickbooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Fault codes with a fixed meaning.
const (
	codeStaleObject    = "5010"
	codeObjectNotFound = "610"
)

// RateLimitError represents a throttled request.
type RateLimitError struct {
	RetryAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("quickbooks: rate limit exceeded, retry at %s", e.RetryAt.Format(time.RFC3339))
}

// Is makes RateLimitError match domain.ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == domain.ErrRateLimited
}

// APIError is one upstream fault.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Detail     string
	URL        string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Detail != "" && e.Detail != e.Message {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("quickbooks: API error %d: %s (URL: %s)", e.StatusCode, msg, e.URL)
}

// faultEnvelope is the error body. Field matching is case-insensitive, so it
// also decodes the lower-case variant returned on authentication failures.
type faultEnvelope struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

// parseFault decodes the first fault in body. Unparseable bodies become the message.
func parseFault(status int, url string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, URL: url}

	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Fault.Error) > 0 {
		f := env.Fault.Error[0]
		apiErr.Code = f.Code
		apiErr.Message = f.Message
		apiErr.Detail = f.Detail
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// translate maps an upstream fault onto the failure taxonomy.
func translate(apiErr *APIError) *domain.SyncError {
	text := strings.ToLower(apiErr.Message + " " + apiErr.Detail)
	se := &domain.SyncError{Kind: domain.ErrUpstreamRejected, Message: strings.TrimSpace(apiErr.Message), Err: apiErr}
	if apiErr.Detail != "" && apiErr.Detail != apiErr.Message {
		se.Message = apiErr.Message + ": " + apiErr.Detail
	}

	switch {
	case IsUnauthorized(apiErr):
		se.Kind = domain.ErrNotAuthenticated
	case apiErr.Code == codeStaleObject || strings.Contains(text, "stale object"):
		se.Kind = domain.ErrStaleSyncToken
	case strings.Contains(text, "linked") && strings.Contains(text, "payment"):
		se.Kind = domain.ErrDependencyConflict
		se.Cause = domain.CauseLinkedPayments
	case strings.Contains(text, "inventory"):
		se.Kind = domain.ErrDependencyConflict
		se.Cause = domain.CauseInventoryDate
	case apiErr.Code == codeObjectNotFound || strings.Contains(text, "object not found") ||
		strings.Contains(text, "made inactive") || strings.Contains(text, "already deleted"):
		se.Kind = domain.ErrDependencyConflict
		se.Cause = domain.CauseAlreadyDeleted
	}
	return se
}

// IsUnauthorized checks if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}
