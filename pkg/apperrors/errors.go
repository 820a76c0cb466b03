// Package apperrors defines the error taxonomy shared by every Meridian
// component: validation failures, permission denials, missing resources,
// and fatal configuration errors. Handlers translate these into HTTP
// responses at the request boundary; nothing below the boundary swallows
// them.
package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed or missing input. Field names the
// offending request field so clients can surface the error in place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidation creates a field-addressed validation error.
func NewValidation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermissionDeniedError indicates the principal is authenticated and the
// request well-formed, but the required membership, role, or permission is
// missing. Any ambiguity resolves to denial.
type PermissionDeniedError struct {
	Message string
}

func (e *PermissionDeniedError) Error() string {
	if e.Message == "" {
		return "permission denied"
	}
	return e.Message
}

// NewPermissionDenied creates a permission denied error.
func NewPermissionDenied(format string, args ...interface{}) *PermissionDeniedError {
	return &PermissionDeniedError{Message: fmt.Sprintf(format, args...)}
}

// IsPermissionDenied checks if an error is a permission denial.
func IsPermissionDenied(err error) bool {
	var pe *PermissionDeniedError
	return errors.As(err, &pe)
}

// NotFoundError indicates a referenced entity does not exist. Public-facing
// handlers map this to the same response as a denial so tenant existence
// does not leak across organizations.
type NotFoundError struct {
	Kind string
	ID   interface{}
}

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s not found: %v", e.Kind, e.ID)
}

// NewNotFound creates a not found error for the given entity kind and ID.
func NewNotFound(kind string, id interface{}) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// ConfigurationError is fatal: it aborts startup rather than degrading
// per-request behavior silently.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfiguration creates a configuration error wrapping an optional cause.
func NewConfiguration(message string, err error) *ConfigurationError {
	return &ConfigurationError{Message: message, Err: err}
}

// IsConfiguration checks if an error is a configuration error.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
