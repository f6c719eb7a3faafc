// Package errors consolidates error definitions for the pipeline.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
//
// The taxonomy separates fatal pre-flight failures (configuration, resource
// budget) from recoverable per-unit failures (missing data, failed compute,
// remote source errors). Orchestrators escalate only the fatal category;
// everything else is logged and skipped at the unit level.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Configuration errors (fatal, not retried)
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidIncrement = errors.New("invalid chunk increment")
	ErrMissingField     = errors.New("missing required field")

	// Resource errors (fatal at startup)
	ErrResourceExceeded = errors.New("memory budget exceeded")

	// Not-found errors (recoverable, skip the unit)
	ErrNotFound        = errors.New("not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrWindowNotFound  = errors.New("correlation window not found")
	ErrStackNotFound   = errors.New("stack not found")

	// Compute errors (recoverable at the unit level)
	ErrCompute             = errors.New("computation failed")
	ErrInsufficientSamples = errors.New("insufficient samples")

	// Remote source errors (recoverable, retried on the next run)
	ErrRemoteSource = errors.New("remote source error")
	ErrTimeout      = errors.New("timeout")

	// Store errors
	ErrStoreClosed    = errors.New("store is closed")
	ErrReadOnlyStore  = errors.New("store is opened read-only")
	ErrWriteOnlyStore = errors.New("store is opened write-only")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrWindowNotFound) ||
		errors.Is(err, ErrStackNotFound)
}

// IsConfig returns true if err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrInvalidIncrement) ||
		errors.Is(err, ErrMissingField)
}

// IsCompute returns true if err is a per-unit compute error.
func IsCompute(err error) bool {
	return errors.Is(err, ErrCompute) ||
		errors.Is(err, ErrInsufficientSamples)
}

// IsRemote returns true if err is a remote data source error.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemoteSource) ||
		errors.Is(err, ErrTimeout)
}

// IsFatal returns true for errors that must abort the run before any
// parallel work is dispatched. Unit-level errors are never fatal.
func IsFatal(err error) bool {
	return IsConfig(err) || errors.Is(err, ErrResourceExceeded)
}

// IsRecoverable returns true for errors handled by skipping one unit
// (a channel, a window, a pair) while the batch continues.
func IsRecoverable(err error) bool {
	return IsNotFound(err) || IsCompute(err) || IsRemote(err)
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

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewResourceExceeded creates a budget error naming the offending values so
// the operator can reduce the chunk duration.
func NewResourceExceeded(estimatedBytes, ceilingBytes int64) error {
	return fmt.Errorf("estimated %.3f GB exceeds %.3f GB per-worker ceiling, reduce inc_hours: %w",
		float64(estimatedBytes)/(1<<30), float64(ceilingBytes)/(1<<30), ErrResourceExceeded)
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

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
