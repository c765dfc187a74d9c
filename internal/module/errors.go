package module

import "errors"

// Module system errors.
var (
	// ErrModuleNotFound is returned when a module is not registered.
	ErrModuleNotFound = errors.New("module not found")

	// ErrAlreadyRegistered is returned when a module name is registered twice.
	ErrAlreadyRegistered = errors.New("module is already registered")

	// ErrModuleDisabled is returned by tasks launched on a disabled module.
	ErrModuleDisabled = errors.New("module is disabled")

	// ErrDependencyNotFound is returned when a dependency is not registered.
	ErrDependencyNotFound = errors.New("module dependency not found")

	// ErrCyclicDependency is returned when modules have circular dependencies.
	ErrCyclicDependency = errors.New("cyclic module dependency detected")

	// ErrTaskPanic is wrapped by the error of a task that panicked.
	ErrTaskPanic = errors.New("module task panicked")

	// ErrNilModule is returned when a nil module is provided.
	ErrNilModule = errors.New("module is nil")
)
