package presence

import (
	"fmt"
	"strings"
)

// ValidationError means the caller's input was rejected before any store
// access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// AuthError means the practice secret did not match.
type AuthError struct {
	PracticeCode string
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("practice %s: secret does not match", e.PracticeCode)
}

// StoreError wraps a failed store or identity call. Steps lists the writes
// that failed when an operation attempts more than one.
type StoreError struct {
	Op    string
	Steps []string
	Err   error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Steps) > 0 {
		return fmt.Sprintf("%s (%s): %v", e.Op, strings.Join(e.Steps, ", "), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func validationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func storeError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}
