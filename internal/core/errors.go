package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntityID is returned when an entity id is not "<domain>.<object_id>".
	ErrInvalidEntityID = errors.New("core: invalid entity id")

	// ErrInvalidState is returned when a state value is too long.
	ErrInvalidState = errors.New("core: invalid state")

	// ErrNotRunning is returned when stopping a hub that is already stopping.
	ErrNotRunning = errors.New("core: not running")
)

// Error is a recognised domain failure whose message is safe to show to
// clients. Integrations return it (or wrap it) for anticipated problems.
type Error struct {
	Message string
	Err     error
}

// NewError builds an Error with a formatted message.
func NewError(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ServiceNotFoundError reports a call to a service nobody registered.
type ServiceNotFoundError struct {
	Domain  string
	Service string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("Service %s.%s not found", e.Domain, e.Service)
}

// UnauthorizedError is returned when the caller lacks a permission.
type UnauthorizedError struct {
	UserID     string
	EntityID   string
	Permission string
}

func (e *UnauthorizedError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("Unauthorized: %s on %s", e.Permission, e.EntityID)
	}
	return "Unauthorized"
}

// ValidationError reports malformed input: service data, trigger or
// condition configs, command fields. Err optionally carries a package
// sentinel for errors.Is.
type ValidationError struct {
	Message string
	Err     error
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }
