package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrTypeMismatch indicates the value type doesn't match the expected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrValidationFailed indicates the configuration fails validation.
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError describes a validation failure for a setting.
type ValidationError struct {
	// Path is the setting path that failed validation.
	Path string
	// Message describes the validation error.
	Message string
	// Value is the invalid value.
	Value any
	// Code categorizes the validation error.
	Code ValidationErrorCode
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode uint8

const (
	// ErrCodeRequiredMissing indicates a required setting is missing.
	ErrCodeRequiredMissing ValidationErrorCode = iota
	// ErrCodeOutOfRange indicates a numeric value is out of range.
	ErrCodeOutOfRange
	// ErrCodeInvalidEnum indicates the value is not in the allowed enum.
	ErrCodeInvalidEnum
)

// String returns a human-readable name for the error code.
func (c ValidationErrorCode) String() string {
	switch c {
	case ErrCodeRequiredMissing:
		return "required_missing"
	case ErrCodeOutOfRange:
		return "out_of_range"
	case ErrCodeInvalidEnum:
		return "invalid_enum"
	default:
		return "unknown"
	}
}

// TypeError is returned when an environment value cannot be converted to
// the type of its setting.
type TypeError struct {
	// Path is the setting path.
	Path string
	// Expected is the expected type name.
	Expected string
	// Value is the raw value.
	Value string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s: expected %s, got %q", e.Path, e.Expected, e.Value)
}

// Is implements error matching for TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}
