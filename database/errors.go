package database

import (
	"errors"
	"fmt"
)

// DBError is a failed database operation with context
type DBError struct {
	Operation string
	Err       error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

func (e *DBError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a missing record
type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s not found: %v", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError represents rejected input
type ValidationError struct {
	Field  string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

// WrapDBError wraps err with the operation name; nil stays nil
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Operation: operation, Err: err}
}

func NewNotFoundErrorWithID(resource string, id any) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NewValidationErrorWithValue(field, reason string, value any) error {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
