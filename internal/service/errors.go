package service

import (
	"errors"
	"fmt"
)

// Client-side validation failures. These are detected before any backend call.
var (
	ErrCounterpartyRequired = errors.New("counterparty required")
	ErrNoLineItems          = errors.New("at least one line item is required")
	ErrUnknownProduct       = errors.New("product is not in the loaded catalog")
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrDuplicateLineItem    = errors.New("product appears on more than one line")
	ErrInvalidDiscount      = errors.New("discount must be between 0 and 100")
	ErrRoleMismatch         = errors.New("session role cannot place this order")
	ErrAlreadySubmitted     = errors.New("order was already submitted")
)

// ValidationError is a client-side rejection. Nothing was sent to the backend.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s", e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func invalidf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a client-side validation failure
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
