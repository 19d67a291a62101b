package customer

import (
	"errors"
	"fmt"
)

// Set of errors for customer API.
var (
	ErrNotFound          = errors.New("customer not found")
	ErrInvalidArgument   = errors.New("customer invalid argument")
	ErrInsufficientFunds = errors.New("customer insufficient funds")
)

// FieldError reports which attribute of a request is invalid. It matches
// ErrInvalidArgument.
type FieldError struct {
	Field string
}

func invalidAttribute(field string) error {
	return &FieldError{Field: field}
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidArgument, e.Field)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidArgument
}
