package repository

import "errors"

var (
	ErrNotFound           = errors.New("voucher not found")
	ErrDuplicateCode      = errors.New("voucher code already exists")
	ErrAlreadyUsed        = errors.New("voucher already used")
	ErrImmutableField     = errors.New("voucher field is immutable")
	ErrIllegalTransition  = errors.New("illegal voucher state transition")
	ErrBackendUnavailable = errors.New("voucher backend unavailable")
)
