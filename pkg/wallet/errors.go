package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrHoldNotActive     = errors.New("hold not active")
	ErrWalletFrozen      = errors.New("wallet frozen")

	ErrInvalidOrgID          = errors.New("invalid org id")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidWalletID       = errors.New("invalid wallet id")
	ErrInvalidHoldID         = errors.New("invalid hold id")
	ErrInvalidEntryID        = errors.New("invalid entry id")
	ErrInvalidProvider       = errors.New("invalid provider")
	ErrInvalidOrderID        = errors.New("invalid order id")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidAmountCents    = errors.New("invalid amount cents")
	ErrInvalidEntryDirection = errors.New("invalid entry direction")
	ErrInvalidEntryReason    = errors.New("invalid entry reason")
	ErrInvalidWalletStatus   = errors.New("invalid wallet status")
	ErrInvalidHoldStatus     = errors.New("invalid hold status")
	ErrInvalidHoldTTL        = errors.New("invalid hold ttl")
	ErrInvalidReference      = errors.New("invalid reference")
	ErrReferenceMismatch     = errors.New("reference mismatch")
	ErrInvalidDecimalAmount  = errors.New("invalid decimal amount")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
