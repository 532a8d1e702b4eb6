package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketflow/assign"
	"marketflow/auth"
	"marketflow/catalog"
	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/order"
	"marketflow/payment"
)

// statusFor maps domain sentinel errors to HTTP statuses. Unknown errors
// become 500 without leaking internals.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, catalog.ErrInsufficientStock),
		errors.Is(err, assign.ErrNoItems),
		errors.Is(err, assign.ErrInvalidItems),
		errors.Is(err, assign.ErrNoFulfillableSupplier),
		errors.Is(err, escrow.ErrOrderNotDelivered),
		errors.Is(err, escrow.ErrOrderNotPaid),
		errors.Is(err, escrow.ErrDisputeBlocksRelease),
		errors.Is(err, escrow.ErrAlreadyProcessed),
		errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrIntentMismatch),
		errors.Is(err, payment.ErrUnsupportedStatus),
		errors.Is(err, dispute.ErrInvalidStatus),
		errors.Is(err, dispute.ErrReasonRequired),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
