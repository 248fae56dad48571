package errors

import (
	"errors"
)

// Common error types for the attendance server
var (
	// Lookup errors
	ErrNotFound = errors.New("not found")

	// Ownership and identity errors
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// Write errors
	ErrDuplicate = errors.New("duplicate")

	// Input errors
	ErrInvalidInput = errors.New("invalid input")
)

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
