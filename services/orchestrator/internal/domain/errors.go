package domain

import "errors"

var (
	// ErrInit is returned when an event cannot be bound to a saga instance:
	// duplicate start, unknown trigger, or an unknown, terminal or expired
	// instance. Nothing is compensated.
	ErrInit = errors.New("saga init error")

	// ErrInvalidTransition is returned when a continuation event does not
	// match the expected event of the instance's current step.
	ErrInvalidTransition = errors.New("invalid saga transition")

	// ErrIllegalStatus is returned for a status change the instance state
	// machine does not allow.
	ErrIllegalStatus = errors.New("illegal saga status change")

	// ErrDeadlinePassed is returned when scheduling a timeout in the past.
	ErrDeadlinePassed = errors.New("timeout deadline already passed")

	// ErrTimedOut is the failure cause reported when a saga's deadline fires.
	ErrTimedOut = errors.New("saga timed out")
)
