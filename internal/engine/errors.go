package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a fault detected by the agenda.
//
// Runtime errors include:
//   - Not queued: remove of an activation that is not in the group's queue
//   - Unresolvable reference: a group name that the registry cannot resolve
//   - Duplicate group: a group name that is already registered
//   - Heap corrupted: a queue position inconsistency (raised as a panic)
//   - Invalid config: an unknown resolver name or similar setting
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Group identifies the affected agenda group.
	Group string

	// ActivationID identifies the affected activation.
	ActivationID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNotQueued indicates a remove of an activation absent from the group.
	ErrCodeNotQueued RuntimeErrorCode = "NOT_QUEUED"

	// ErrCodeUnresolvableReference indicates a group name missing from the registry.
	ErrCodeUnresolvableReference RuntimeErrorCode = "UNRESOLVABLE_REFERENCE"

	// ErrCodeDuplicateGroup indicates a group name that is already registered.
	ErrCodeDuplicateGroup RuntimeErrorCode = "DUPLICATE_GROUP"

	// ErrCodeHeapCorrupted indicates a queue position inconsistency.
	ErrCodeHeapCorrupted RuntimeErrorCode = "HEAP_CORRUPTED"

	// ErrCodeInvalidConfig indicates an invalid configuration value.
	ErrCodeInvalidConfig RuntimeErrorCode = "INVALID_CONFIG"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Group != "" && e.ActivationID != "" {
		return fmt.Sprintf("%s: %s (group=%s, activation=%s)", e.Code, e.Message, e.Group, e.ActivationID)
	}
	if e.Group != "" {
		return fmt.Sprintf("%s: %s (group=%s)", e.Code, e.Message, e.Group)
	}
	if e.ActivationID != "" {
		return fmt.Sprintf("%s: %s (activation=%s)", e.Code, e.Message, e.ActivationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsNotQueued returns true if the error is a not-queued error.
// Uses errors.As to handle wrapped errors.
func IsNotQueued(err error) bool {
	return hasCode(err, ErrCodeNotQueued)
}

// IsUnresolvable returns true if the error is an unresolvable reference error.
func IsUnresolvable(err error) bool {
	return hasCode(err, ErrCodeUnresolvableReference)
}

// IsDuplicateGroup returns true if the error is a duplicate group error.
func IsDuplicateGroup(err error) bool {
	return hasCode(err, ErrCodeDuplicateGroup)
}

// IsHeapCorrupted returns true if the error is a heap corruption error.
// Heap corruption is raised as a panic; use this on recovered values.
func IsHeapCorrupted(err error) bool {
	return hasCode(err, ErrCodeHeapCorrupted)
}

// NewNotQueuedError creates a RuntimeError for a remove of an absent activation.
func NewNotQueuedError(group string, a *Activation) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeNotQueued,
		Message:      "activation is not queued in this group",
		Group:        group,
		ActivationID: a.ID,
		Details: map[string]string{
			"queue_index": fmt.Sprintf("%d", a.queueIndex),
			"owner":       a.group,
		},
	}
}

// NewUnresolvableError creates a RuntimeError for an unknown group name.
func NewUnresolvableError(group string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnresolvableReference,
		Message: "agenda group cannot be resolved",
		Group:   group,
	}
}

// NewDuplicateGroupError creates a RuntimeError for a duplicate group name.
func NewDuplicateGroupError(group string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateGroup,
		Message: "agenda group already exists",
		Group:   group,
	}
}

// NewHeapCorruptedError creates a RuntimeError for a queue inconsistency.
func NewHeapCorruptedError(message, activationID string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeHeapCorrupted,
		Message:      message,
		ActivationID: activationID,
	}
}

// NewConfigError creates a RuntimeError for an invalid configuration value.
func NewConfigError(message string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidConfig,
		Message: message,
	}
}
