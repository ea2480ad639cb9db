package service

import (
	"context"
	"errors"
	"fmt"

	"dcard-ledger/internal/lock"
	"dcard-ledger/internal/repository"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateCode       = errors.New("voucher code already exists")
	ErrAmountMismatch      = errors.New("total amount does not match line items")
	ErrNotFound            = errors.New("voucher not found")
	ErrAlreadyUsed         = errors.New("voucher already used")
	ErrBeneficiaryMismatch = errors.New("beneficiary does not match")
	ErrBackendUnavailable  = errors.New("ledger backend unavailable")
	ErrLockBusy            = errors.New("voucher is being redeemed, retry shortly")
	ErrCorruptRecord       = errors.New("stored voucher failed integrity check")
)

// ValidationError names the request field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// mapRegistryError translates registry sentinels into service error kinds.
// Unknown errors pass through unchanged.
func mapRegistryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrDuplicateCode):
		return ErrDuplicateCode
	case errors.Is(err, repository.ErrAlreadyUsed):
		return ErrAlreadyUsed
	case errors.Is(err, repository.ErrBackendUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return err
	}
}

func mapLockError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lock.ErrLockBusy):
		return ErrLockBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: lock: %v", ErrBackendUnavailable, err)
	}
}
