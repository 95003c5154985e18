package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate marks a natural key collision.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrOverpayment marks a payment larger than what is owed.
	ErrOverpayment = errors.New("payment exceeds outstanding balance")
	// ErrForbidden indicates the actor cannot touch another company's data.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError names the field that made an input unacceptable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation: %s is required", e.Field)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Required builds a ValidationError for a missing field.
func Required(field string) error {
	return &ValidationError{Field: field}
}

// OverpaymentError carries the part of a payment that could not be applied.
type OverpaymentError struct {
	Remainder decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: %s left unallocated", ErrOverpayment.Error(), e.Remainder.StringFixed(2))
}

// Unwrap lets errors.Is match ErrOverpayment.
func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }
