package api

import (
	"errors"
	"net/http"

	"ms-railway/internal/booking"
	"ms-railway/internal/cancellation"
	"ms-railway/internal/inventory"
	"ms-railway/internal/payment"
	"ms-railway/internal/query"
	"ms-railway/internal/reconcile"
)

const (
	reasonNotFound             = "not_found"
	reasonForbidden            = "forbidden"
	reasonAlreadyCancelled     = "already_cancelled"
	reasonAlreadyPaid          = "already_paid"
	reasonTicketCancelled      = "ticket_cancelled"
	reasonAlreadyResolved      = "already_resolved"
	reasonConsistencyViolation = "consistency_violation"
	reasonInternal             = "internal_error"

	reasonInvalidRequest = string(booking.ReasonInvalidRequest)
)

// classify maps a core error to an HTTP status and a stable reason string.
func classify(err error) (int, string) {
	if reason := booking.ReasonOf(err); reason != "" {
		switch reason {
		case booking.ReasonNoSeats:
			return http.StatusConflict, string(reason)
		case booking.ReasonStorageFailure:
			return http.StatusServiceUnavailable, string(reason)
		default:
			return http.StatusBadRequest, string(reason)
		}
	}

	switch {
	case errors.Is(err, cancellation.ErrNotFound),
		errors.Is(err, payment.ErrTicketNotFound),
		errors.Is(err, query.ErrNotFound),
		errors.Is(err, reconcile.ErrNotFound):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, cancellation.ErrNotOwner),
		errors.Is(err, payment.ErrNotOwner),
		errors.Is(err, query.ErrNotOwner):
		return http.StatusForbidden, reasonForbidden
	case errors.Is(err, cancellation.ErrAlreadyCancelled):
		return http.StatusConflict, reasonAlreadyCancelled
	case errors.Is(err, payment.ErrAlreadyPaid):
		return http.StatusConflict, reasonAlreadyPaid
	case errors.Is(err, reconcile.ErrAlreadyResolved):
		return http.StatusConflict, reasonAlreadyResolved
	case errors.Is(err, payment.ErrTicketCancelled):
		return http.StatusConflict, reasonTicketCancelled
	case errors.Is(err, payment.ErrInvalidPayment),
		errors.Is(err, query.ErrInvalidDate):
		return http.StatusBadRequest, reasonInvalidRequest
	case errors.Is(err, cancellation.ErrStorageFailure),
		errors.Is(err, payment.ErrStorageFailure),
		errors.Is(err, query.ErrStorageFailure),
		errors.Is(err, reconcile.ErrStorageFailure):
		return http.StatusServiceUnavailable, string(booking.ReasonStorageFailure)
	case errors.Is(err, inventory.ErrConsistencyViolation):
		return http.StatusInternalServerError, reasonConsistencyViolation
	default:
		return http.StatusInternalServerError, reasonInternal
	}
}
