package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// errorBody is the failure envelope shared by every endpoint.
type errorBody struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error"`
	Kind      domain.ErrorKind `json:"kind"`
	Reconnect bool             `json:"reconnect,omitempty"`
}

// statusForKind maps a failure class to an HTTP status.
func statusForKind(kind domain.ErrorKind, reconnect bool) int {
	switch kind {
	case domain.KindNotAuthenticated:
		return fiber.StatusUnauthorized
	case domain.KindRefreshFailed:
		if reconnect {
			return fiber.StatusUnauthorized
		}
		return fiber.StatusBadGateway
	case domain.KindNoConnection, domain.KindStaleSyncToken, domain.KindDependencyConflict:
		return fiber.StatusConflict
	case domain.KindExchangeFailed, domain.KindInvalidInput:
		return fiber.StatusBadRequest
	case domain.KindUpstreamRejected:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrRateLimited) {
		return fiber.StatusTooManyRequests
	}
	return statusForKind(domain.Classify(err), domain.NeedsReconnect(err))
}

func fail(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody{Error: fe.Message, Kind: domain.KindInvalidInput})
	}
	return c.Status(statusFor(err)).JSON(errorBody{
		Error:     domain.UserMessage(err),
		Kind:      domain.Classify(err),
		Reconnect: domain.NeedsReconnect(err),
	})
}

func invalid(msg string) error {
	return domain.NewSyncError(domain.ErrInvalidInput, msg, nil)
}

// errorHandler renders errors returned by handlers and fiber itself.
func errorHandler(c *fiber.Ctx, err error) error {
	return fail(c, err)
}
