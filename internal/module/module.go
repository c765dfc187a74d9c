package module

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/dshills/recode/internal/logging"
)

// Module is a toggleable unit of feature code.
type Module interface {
	// ID returns the unique module identifier.
	ID() string

	// Name returns the human-readable module name.
	Name() string

	// IsEnabled reports whether the module is currently enabled.
	IsEnabled() bool

	// Depend records a dependency edge from this module to other.
	// Recording the same edge twice is a no-op.
	Depend(other Module)

	// Launch runs task for as long as the module stays enabled.
	Launch(task Task) *Handle
}

// Unit is the default Module implementation.
type Unit struct {
	id   string
	name string
	log  *logging.Logger

	mu    sync.RWMutex
	state State
	deps  []Module

	// lifetime is cancelled when the unit is disabled.
	lifetime context.Context
	cancel   context.CancelFunc
	tasks    conc.WaitGroup

	onEnable  []func()
	onDisable []func()
}

// Option configures a Unit.
type Option func(*Unit)

// WithLogger sets the logger used for task failures.
func WithLogger(l *logging.Logger) Option {
	return func(u *Unit) {
		if l != nil {
			u.log = l
		}
	}
}

// WithOnEnable registers a hook run each time the unit becomes enabled.
func WithOnEnable(fn func()) Option {
	return func(u *Unit) {
		if fn != nil {
			u.onEnable = append(u.onEnable, fn)
		}
	}
}

// WithOnDisable registers a hook run each time the unit is disabled.
func WithOnDisable(fn func()) Option {
	return func(u *Unit) {
		if fn != nil {
			u.onDisable = append(u.onDisable, fn)
		}
	}
}

// Enabled starts the unit in the enabled state.
func Enabled() Option {
	return func(u *Unit) {
		u.state = StateEnabled
	}
}

// New creates a disabled unit with the given name.
func New(name string, opts ...Option) *Unit {
	u := &Unit{
		id:    uuid.NewString(),
		name:  name,
		log:   logging.Nop(),
		state: StateDisabled,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = u.log.WithModule(name)
	if u.state == StateEnabled {
		u.lifetime, u.cancel = context.WithCancel(context.Background())
	}
	return u
}

// ID returns the unit's unique identifier.
func (u *Unit) ID() string {
	return u.id
}

// Name returns the unit's name.
func (u *Unit) Name() string {
	return u.name
}

// State returns the current lifecycle state.
func (u *Unit) State() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// IsEnabled reports whether the unit is enabled.
func (u *Unit) IsEnabled() bool {
	return u.State().IsEnabled()
}

// Depend records a dependency on other.
func (u *Unit) Depend(other Module) {
	if other == nil || other.ID() == u.id {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	for _, d := range u.deps {
		if d.ID() == other.ID() {
			return
		}
	}
	u.deps = append(u.deps, other)
}

// Dependencies returns the recorded dependencies in insertion order.
func (u *Unit) Dependencies() []Module {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]Module(nil), u.deps...)
}

// Enable transitions the unit to enabled. Enabling an enabled unit is a no-op.
func (u *Unit) Enable() {
	u.mu.Lock()
	if u.state == StateEnabled || u.state == StateEnabling {
		u.mu.Unlock()
		return
	}
	u.state = StateEnabling
	u.lifetime, u.cancel = context.WithCancel(context.Background())
	hooks := append([]func(){}, u.onEnable...)
	u.mu.Unlock()

	for _, fn := range hooks {
		u.safeHook("enable", fn)
	}

	u.mu.Lock()
	u.state = StateEnabled
	u.mu.Unlock()
	u.log.Debug("module enabled")
}

// Disable cancels every task launched by the unit and marks it disabled.
// It does not wait for tasks to return; use Wait for that.
func (u *Unit) Disable() {
	u.mu.Lock()
	if u.state == StateDisabled || u.state == StateDisabling {
		u.mu.Unlock()
		return
	}
	u.state = StateDisabling
	cancel := u.cancel
	hooks := append([]func(){}, u.onDisable...)
	u.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, fn := range hooks {
		u.safeHook("disable", fn)
	}

	u.mu.Lock()
	u.state = StateDisabled
	u.mu.Unlock()
	u.log.Debug("module disabled")
}

// Launch runs task on a new goroutine scoped to the unit's lifetime.
// If the unit is disabled the returned Handle is already done with
// ErrModuleDisabled.
func (u *Unit) Launch(task Task) *Handle {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.state != StateEnabled {
		return finishedHandle(ErrModuleDisabled)
	}

	ctx, cancel := context.WithCancel(u.lifetime)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	u.tasks.Go(func() {
		h.run(ctx, task)
		if err := h.err; err != nil && !errors.Is(err, context.Canceled) {
			u.log.Warn("module task failed", "error", err)
		}
	})
	return h
}

// Wait blocks until every task launched so far has returned.
func (u *Unit) Wait() {
	u.tasks.Wait()
}

func (u *Unit) safeHook(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			u.log.Error("module hook panicked", "hook", kind, "panic", r)
		}
	}()
	fn()
}
