package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrTerminalState is returned when a job in a final state is asked to change state
	ErrTerminalState = errors.New("job is in a terminal state")

	// ErrDuplicateState is returned when a job is asked to move to the state it already has
	ErrDuplicateState = errors.New("job is already in the requested state")

	// ErrInvalidTransition is returned for state changes not allowed by the state machine
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotOwner is returned when a provider acts on a job it does not own
	ErrNotOwner = errors.New("provider does not own job")

	// ErrUnknownState is returned when a state name is not recognised
	ErrUnknownState = errors.New("unknown job state")

	// ErrNotFound is returned by catalog lookups that found nothing
	ErrNotFound = errors.New("not found")

	// ErrAlreadyBound is returned when a resource is already in use by another job
	ErrAlreadyBound = errors.New("resource is already bound to a job")
)

// IsDiscardable reports whether err means a state change should be dropped without
// surfacing an error to the caller.
func IsDiscardable(err error) bool {
	return errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrDuplicateState) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrJobNotFound)
}
