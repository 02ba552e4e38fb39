package domain

import "errors"

var (
	ErrUserNotFound             = errors.New("user_not_found")
	ErrPaymentNotFound          = errors.New("payment_not_found")
	ErrStoreConflict            = errors.New("store_conflict")
	ErrConflictRetriesExhausted = errors.New("store_conflict_retries_exhausted")
	ErrInvalidAmount            = errors.New("invalid_amount")
	ErrInvalidReference         = errors.New("invalid_reference")
	ErrInvalidUserID            = errors.New("invalid_user_id")
	ErrInvalidPaymentID         = errors.New("invalid_payment_id")
)
