package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
	"dcard-ledger/internal/metrics"
	"dcard-ledger/internal/service"
)

const retryAfterSeconds = "2"

// handleLedgerError maps service error kinds to HTTP statuses.
func handleLedgerError(c *gin.Context, err error) {
	var validationErr *service.ValidationError

	switch {
	case errors.As(err, &validationErr):
		metrics.IncLedgerError("validation")
		response.Fail(c, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, service.ErrValidation):
		metrics.IncLedgerError("validation")
		response.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAmountMismatch):
		metrics.IncLedgerError("amount_mismatch")
		response.Fail(c, http.StatusBadRequest, service.ErrAmountMismatch.Error())
	case errors.Is(err, service.ErrNotFound):
		metrics.IncLedgerError("not_found")
		response.Fail(c, http.StatusNotFound, service.ErrNotFound.Error())
	case errors.Is(err, service.ErrDuplicateCode):
		metrics.IncLedgerError("duplicate_code")
		response.Fail(c, http.StatusConflict, service.ErrDuplicateCode.Error())
	case errors.Is(err, service.ErrAlreadyUsed):
		metrics.IncLedgerError("already_used")
		response.Fail(c, http.StatusConflict, service.ErrAlreadyUsed.Error())
	case errors.Is(err, service.ErrBeneficiaryMismatch):
		metrics.IncLedgerError("beneficiary_mismatch")
		response.Fail(c, http.StatusForbidden, service.ErrBeneficiaryMismatch.Error())
	case errors.Is(err, service.ErrLockBusy):
		metrics.IncLedgerError("lock_busy")
		c.Header("Retry-After", retryAfterSeconds)
		response.Fail(c, http.StatusServiceUnavailable, service.ErrLockBusy.Error())
	case errors.Is(err, service.ErrBackendUnavailable):
		metrics.IncLedgerError("backend_unavailable")
		c.Header("Retry-After", retryAfterSeconds)
		response.Fail(c, http.StatusServiceUnavailable, service.ErrBackendUnavailable.Error())
	case errors.Is(err, service.ErrCorruptRecord):
		metrics.IncLedgerError("corrupt_record")
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, service.ErrCorruptRecord.Error())
	default:
		metrics.IncLedgerError("internal")
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, "internal server error")
	}
}

func badRequest(c *gin.Context, field, reason string) {
	handleLedgerError(c, &service.ValidationError{Field: field, Reason: reason})
}

// rejectMarkup fails the request when any named field carries HTML.
func rejectMarkup(c *gin.Context, offending []string) bool {
	if len(offending) == 0 {
		return false
	}
	badRequest(c, strings.Join(sortedCopy(offending), ","), "must not contain markup")
	return true
}
