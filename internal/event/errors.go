package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event framework.
var (
	// ErrSuspendingCollector is matched by the InvariantError raised when a
	// broadcast could not be delivered without blocking.
	ErrSuspendingCollector = errors.New("event subscribers must not block on receipt")

	// ErrInvalidInterval is returned when a refresh interval or cache
	// duration is zero or negative.
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrNilDerive is returned when an event is built without a derivation function.
	ErrNilDerive = errors.New("derivation function cannot be nil")

	// ErrNilDispatcher is returned when an event is built without a dispatcher.
	ErrNilDispatcher = errors.New("dispatcher cannot be nil")

	// ErrNilSelector is returned when a buffered event lacks a key selector
	// or context generator.
	ErrNilSelector = errors.New("key selector and context generator cannot be nil")

	// ErrNilOwner is returned when a buffered event has no owner module.
	ErrNilOwner = errors.New("owner module cannot be nil")

	// ErrNilHost is returned when a host event is nil.
	ErrNilHost = errors.New("host event cannot be nil")
)

// InvariantError reports a broken framework invariant. It is raised with
// panic, never returned.
type InvariantError struct {
	// Event is the name of the event whose invariant broke.
	Event string

	// Subscriber is the ID of the subscription involved, if any.
	Subscriber string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("event %q: subscriber %s: %v", e.Event, e.Subscriber, ErrSuspendingCollector)
}

// Is allows errors.Is to match InvariantError with ErrSuspendingCollector.
func (e *InvariantError) Is(target error) bool {
	return target == ErrSuspendingCollector
}

// Fatal reports that the mutation loop must re-raise an InvariantError
// instead of containing it.
func (e *InvariantError) Fatal() bool {
	return true
}
