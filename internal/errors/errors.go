// Package errors provides the error taxonomy for the entire project.
//
// This file provides:
// - Sentinel errors for sampler, storage and request failures
// - Error category checking functions
// - ErrorToStatus mapping for the HTTP boundary
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Sampler errors. Every sampler failure wraps ErrSampler and one kind.
	ErrSampler           = errors.New("sampler error")
	ErrTransportOpen     = errors.New("transport open failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTimeout           = errors.New("timeout")

	// Storage errors
	ErrStorageInit  = errors.New("storage init failed")
	ErrStorageWrite = errors.New("storage write failed")
	ErrStorageRead  = errors.New("storage read failed")
	ErrStoreClosed  = errors.New("store is closed")
	ErrReadOnly     = errors.New("store is read-only")

	// Validation errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownDriver  = errors.New("unknown driver")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsSamplerError returns true if err came from a sampler poll.
func IsSamplerError(err error) bool {
	return errors.Is(err, ErrSampler)
}

// IsStorageError returns true if err is any storage failure.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageInit) ||
		errors.Is(err, ErrStorageWrite) ||
		errors.Is(err, ErrStorageRead) ||
		errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, ErrReadOnly)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownDriver)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// ErrorToStatus maps an error to the HTTP status returned by the query API.
func ErrorToStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewSampler creates a sampler error of the given kind.
// The result matches both ErrSampler and kind.
func NewSampler(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w: %s", ErrSampler, kind, fmt.Sprintf(format, args...))
}

// NewStorage tags cause with a storage sentinel (ErrStorageInit,
// ErrStorageWrite, ErrStorageRead). Returns nil when cause is nil.
func NewStorage(kind error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", kind, op, cause)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewInvalidRequest creates a request parameter error.
func NewInvalidRequest(param, reason string) error {
	return fmt.Errorf("%s: %s: %w", param, reason, ErrInvalidRequest)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
