package api

import (
	"errors"
	"net/http"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
	"github.com/nearai/pay-per-prompt/internal/receiver/validator"
)

// statusFor maps a business error to the HTTP status spec.md §6 names.
// Anything unrecognized, including every store error, is a 500 — store
// errors are never described in the response body (spec.md §7).
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, store.ErrNotFoundInDB),
		errors.Is(err, validator.ErrChannelNotFound),
		errors.Is(err, arbiter.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, validator.ErrBadSignature),
		errors.Is(err, validator.ErrNonMonotonic),
		errors.Is(err, validator.ErrPaymentTooSmall),
		errors.Is(err, validator.ErrInsufficientFunds),
		errors.Is(err, validator.ErrInvalidOwner),
		errors.Is(err, validator.ErrSoftClosed),
		errors.Is(err, validator.ErrHardClosed),
		errors.Is(err, validator.ErrClosing),
		errors.Is(err, arbiter.ErrBadSignature),
		errors.Is(err, arbiter.ErrClosed),
		errors.Is(err, arbiter.ErrClosing),
		errors.Is(err, arbiter.ErrNothingToWithdraw),
		errors.Is(err, arbiter.ErrInvalidClosePayload),
		errors.Is(err, arbiter.ErrUnauthorized):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the string sent to the caller. Store/internal
// failures never leak their underlying text.
func messageFor(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
