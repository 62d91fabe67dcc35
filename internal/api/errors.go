package api

import (
	"errors"
	"fmt"
)

// NotFoundError represents a resource not found error with contextual information.
// This standardized error type provides consistent error handling across all API
// operations for cases where requested resources don't exist in the system.
//
// The error includes resource type and name for precise error reporting and
// supports custom error messages for specific use cases.
type NotFoundError struct {
	// ResourceType categorizes the type of resource that was not found
	// (e.g., "pool", "server", "session")
	ResourceType string

	// ResourceName is the specific identifier of the resource that was not found
	ResourceName string

	// Message provides a custom error message if the default format is insufficient
	Message string
}

// Error implements the error interface for NotFoundError.
// Returns either the custom message if provided, or a formatted default message
// using the resource type and name.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
// This function provides a type-safe way to check for not found conditions
// in error handling code, supporting wrapped errors.
//
// Example:
//
//	result, err := GetPool("nonexistent")
//	if api.IsNotFound(err) {
//	    // Handle not found case
//	}
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource type and name.
// This is the standard way to create not found errors throughout the API.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// NewNotFoundErrorWithMessage creates a new NotFoundError with a custom message.
// This is used when the default error format doesn't provide sufficient context.
func NewNotFoundErrorWithMessage(resourceType, resourceName, message string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
		Message:      message,
	}
}

// Specific NotFoundError constructors for each resource type.
// These provide convenient, type-specific error creation with consistent naming.
var (
	// NewPoolNotFoundError creates a pool not found error.
	NewPoolNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("pool", name)
	}

	// NewServerNotFoundError creates a server instance not found error.
	NewServerNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("server", name)
	}

	// NewSessionNotFoundError creates a bridge session not found error.
	NewSessionNotFoundError = func(id string) *NotFoundError {
		return NewNotFoundError("session", id)
	}
)

// CapacityError reports that a pool has no free slot for another server
// instance. It carries the observed numbers so callers can surface them.
type CapacityError struct {
	// Pool is the name of the saturated pool.
	Pool string

	// Limit is the pool's maxServers cap.
	Limit int32

	// Active is the number of instances counted against the cap.
	Active int32
}

// Error implements the error interface for CapacityError.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("pool %s capacity exceeded: %d of %d servers active", e.Pool, e.Active, e.Limit)
}

// IsCapacityExceeded checks if an error is a CapacityError using error unwrapping.
func IsCapacityExceeded(err error) bool {
	var capErr *CapacityError
	return errors.As(err, &capErr)
}

// NewCapacityError creates a new CapacityError for the given pool.
func NewCapacityError(pool string, limit, active int32) *CapacityError {
	return &CapacityError{
		Pool:   pool,
		Limit:  limit,
		Active: active,
	}
}

// SubstrateError wraps a failure of the orchestration substrate (Kubernetes).
// Substrate errors are considered transient: callers retry them with backoff.
type SubstrateError struct {
	// Op names the operation that failed (e.g., "create pod", "update status").
	Op string

	// Err is the underlying substrate error.
	Err error
}

// Error implements the error interface for SubstrateError.
func (e *SubstrateError) Error() string {
	return fmt.Sprintf("substrate error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As chains.
func (e *SubstrateError) Unwrap() error {
	return e.Err
}

// IsSubstrate checks if an error is a SubstrateError using error unwrapping.
func IsSubstrate(err error) bool {
	var subErr *SubstrateError
	return errors.As(err, &subErr)
}

// NewSubstrateError creates a new SubstrateError for the given operation.
func NewSubstrateError(op string, err error) *SubstrateError {
	return &SubstrateError{
		Op:  op,
		Err: err,
	}
}

// SpecError reports an invalid declared record. Spec errors are permanent:
// retrying without changing the record cannot succeed.
type SpecError struct {
	// Field is the spec field that failed validation.
	Field string

	// Reason describes why the value is invalid.
	Reason string
}

// Error implements the error interface for SpecError.
func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid spec: %s: %s", e.Field, e.Reason)
}

// IsInvalidSpec checks if an error is a SpecError using error unwrapping.
func IsInvalidSpec(err error) bool {
	var specErr *SpecError
	return errors.As(err, &specErr)
}

// NewSpecError creates a new SpecError for the given field.
func NewSpecError(field, reason string) *SpecError {
	return &SpecError{
		Field:  field,
		Reason: reason,
	}
}

// TransportError wraps a failure on a bridge session or its backing channel.
type TransportError struct {
	// SessionID identifies the affected session, if any.
	SessionID string

	// Err is the underlying transport error.
	Err error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error on session %s: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As chains.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport checks if an error is a TransportError using error unwrapping.
func IsTransport(err error) bool {
	var transErr *TransportError
	return errors.As(err, &transErr)
}

// NewTransportError creates a new TransportError for the given session.
func NewTransportError(sessionID string, err error) *TransportError {
	return &TransportError{
		SessionID: sessionID,
		Err:       err,
	}
}

// IsRetryable reports whether an error class is worth retrying with backoff.
// Substrate and transport failures are transient; everything else is not.
func IsRetryable(err error) bool {
	return IsSubstrate(err) || IsTransport(err)
}
