package timer

import "errors"

var (
	// ErrNotFound means the referenced timer, profile or match does not exist.
	ErrNotFound = errors.New("timer: not found")

	// ErrInvalidTransition means the requested action is not a legal edge of
	// the timer state machine.
	ErrInvalidTransition = errors.New("timer: invalid transition")

	// ErrLocked means a mutation was attempted while the freshly-loaded timer
	// state is START. Stop, abort and reads are the only operations allowed on
	// a running timer.
	ErrLocked = errors.New("timer: locked while running")

	// ErrProfileInUse means a profile cannot be deleted while timers reference it.
	ErrProfileInUse = errors.New("timer: profile is referenced by timers")

	// ErrMatchAttached means the match already belongs to another timer.
	ErrMatchAttached = errors.New("timer: match already attached to a timer")
)
