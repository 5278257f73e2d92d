// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "assignment", "catalog"
	Op      string // Operation that failed, e.g., "TryAssign", "Award"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
// A DomainError matches itself, its Kind, and anything its wrapped error matches.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// User errors
var (
	ErrInvalidUserID = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
	ErrUnknownUser   = NewDomainError("progress", "Find", ErrNotFound, "user has not started the bot")
)

// Assignment errors
var (
	ErrAlreadyActive = NewDomainError("assignment", "TryAssign", ErrInvalidState, "user already has an active task")
	ErrNotActive     = NewDomainError("assignment", "Resolve", ErrInvalidState, "no active task")
	ErrTaskMismatch  = NewDomainError("assignment", "Resolve", ErrInvalidState, "task is not the active one")
	ErrEmptyPool     = NewDomainError("assignment", "TryAssign", ErrInvalidInput, "candidate pool is empty")
)

// Catalog errors
var (
	ErrUnknownTask     = NewDomainError("catalog", "Task", ErrNotFound, "unknown task")
	ErrUnknownCategory = NewDomainError("catalog", "Tips", ErrNotFound, "unknown tip category")
	ErrInvalidCatalog  = NewDomainError("catalog", "Validate", ErrValidation, "invalid catalog")
)

// External service errors
var (
	ErrTelegramAPIFailed = NewDomainError("telegram", "Send", ErrExternalService, "Telegram API request failed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyActive checks if an assignment was refused because one is outstanding.
func IsAlreadyActive(err error) bool {
	return errors.Is(err, ErrAlreadyActive)
}

// IsNotActive checks if a completion or skip referenced a stale or unknown task.
// Both "no assignment" and "different assignment" count.
func IsNotActive(err error) bool {
	return errors.Is(err, ErrNotActive) || errors.Is(err, ErrTaskMismatch)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
