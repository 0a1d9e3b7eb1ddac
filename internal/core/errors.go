package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned by every store when a row does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrAppendOnly is returned when the storage layer rejects a mutation of
	// an append-only row.
	ErrAppendOnly = errors.New("append-only row cannot be modified")
	// ErrChainConflict is returned when an append would fork a tenant chain.
	ErrChainConflict = errors.New("chain tail moved during append")
	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
)

type ErrorCode string

const (
	ErrBadRequest         ErrorCode = "LEDGER_BAD_REQUEST"
	ErrNotFound           ErrorCode = "LEDGER_NOT_FOUND"
	ErrConflictIdempotent ErrorCode = "LEDGER_CONFLICT_IDEMPOTENT_MISMATCH"
	ErrConflictChain      ErrorCode = "LEDGER_CONFLICT_CHAIN"
	ErrImmutable          ErrorCode = "LEDGER_IMMUTABLE"
	ErrPreconditionFailed ErrorCode = "LEDGER_PRECONDITION_FAILED"
	ErrInternal           ErrorCode = "LEDGER_INTERNAL"
	ErrSealerError        ErrorCode = "LEDGER_SEALER_ERROR"
	ErrSealerTimeout      ErrorCode = "LEDGER_SEALER_TIMEOUT"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflictIdempotent, ErrConflictChain, ErrImmutable:
		return 409
	case ErrPreconditionFailed:
		return 412
	case ErrSealerError:
		return 502
	case ErrSealerTimeout:
		return 504
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// ValidationError marks a structural input error that is the caller's fault.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
