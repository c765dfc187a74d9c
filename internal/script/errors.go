package script

import "errors"

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("script state is closed")

	// ErrUnknownHook is raised when a script hooks a name nothing is bound to.
	ErrUnknownHook = errors.New("unknown hook")

	// ErrDuplicateHook is returned when binding a hook name twice.
	ErrDuplicateHook = errors.New("hook already bound")
)
