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
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Persistence errors
	ErrStoreUnavailable        = errors.New("store unavailable")
	ErrIdempotencyWriteFailure = errors.New("idempotency record write failed")

	// Data quality
	ErrDataQuality = errors.New("data quality warning")

	// Infrastructure errors
	ErrTimeout = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "household", "gamification", "analytics"
	Op      string // Operation that failed, e.g., "Award", "FindUser"
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
func (e *DomainError) Is(target error) bool {
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

// Household domain errors
var (
	ErrUserNotFound         = NewDomainError("household", "FindUser", ErrNotFound, "user not found")
	ErrTaskNotFound         = NewDomainError("household", "FindTask", ErrNotFound, "task not found")
	ErrHouseholdNotFound    = NewDomainError("household", "FindHousehold", ErrNotFound, "household not found")
	ErrTaskAlreadyCompleted = NewDomainError("household", "CompleteTask", ErrAlreadyExists, "task already completed")
	ErrInvalidUserID        = NewDomainError("household", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidTaskID        = NewDomainError("household", "Validate", ErrInvalidID, "invalid task ID")
	ErrInvalidHouseholdID   = NewDomainError("household", "Validate", ErrInvalidID, "invalid household ID")
)

// Gamification domain errors
var (
	ErrUnknownReason     = NewDomainError("gamification", "Award", ErrInvalidInput, "unknown award reason")
	ErrNegativeBalance   = NewDomainError("gamification", "Award", ErrInvalidState, "balance is negative after clamp")
	ErrMilestoneRecorded = NewDomainError("gamification", "SaveMilestoneRecord", ErrAlreadyExists, "milestone already recorded")
)

// Analytics domain errors
var (
	ErrInvalidWindow = NewDomainError("analytics", "Validate", ErrInvalidInput, "invalid analytics window")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}
