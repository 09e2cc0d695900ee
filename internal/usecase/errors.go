package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrCartEmpty          = errors.New("cart is empty")
	ErrOutOfStock         = errors.New("out of stock")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrForbidden          = errors.New("forbidden")
	ErrOrderNotFound      = errors.New("order not found")
	ErrDuplicateRequest   = errors.New("duplicate request in progress")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPaymentInit        = errors.New("failed to initialize payment")
	ErrGateway            = errors.New("payment gateway error")
	ErrAmountMismatch     = errors.New("paid amount is less than order total")
	ErrInvalidMetadata    = errors.New("invalid payment metadata")
)

type OutOfStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("only %d units available for product %s (requested %d)", e.Available, e.ProductID, e.Requested)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// ConflictError is returned once the retry bound for write conflicts is exhausted.
type ConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: write conflict after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
