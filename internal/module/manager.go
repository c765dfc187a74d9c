package module

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/recode/internal/logging"
)

// Manager owns the module graph and sequences enable/disable order from the
// dependency edges recorded through Depend.
type Manager struct {
	mu sync.RWMutex

	// Registered units by name
	units map[string]*Unit

	// Registration order (for deterministic iteration)
	order []string

	// Event handlers (protected by mu)
	handlers []EventHandler

	log *logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// EventHandler handles manager events.
// Handlers must be non-blocking and must not call back into the Manager.
// Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a module lifecycle event.
type ManagerEvent struct {
	Type   ManagerEventType
	Module string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventModuleRegistered is emitted when a module is registered.
	EventModuleRegistered ManagerEventType = iota
	// EventModuleEnabled is emitted when a module is enabled.
	EventModuleEnabled
	// EventModuleDisabled is emitted when a module is disabled.
	EventModuleDisabled
	// EventModuleError is emitted when an ordering or lookup fails.
	EventModuleError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventModuleRegistered:
		return "registered"
	case EventModuleEnabled:
		return "enabled"
	case EventModuleDisabled:
		return "disabled"
	case EventModuleError:
		return "error"
	default:
		return "unknown"
	}
}

// NewManager creates an empty module manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		units: make(map[string]*Unit),
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithComponent("module-manager")
	return m
}

// Register adds a unit to the graph.
func (m *Manager) Register(u *Unit) error {
	if u == nil {
		return ErrNilModule
	}

	m.mu.Lock()
	if _, exists := m.units[u.Name()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("module %q: %w", u.Name(), ErrAlreadyRegistered)
	}
	m.units[u.Name()] = u
	m.order = append(m.order, u.Name())
	m.mu.Unlock()

	m.emit(ManagerEvent{Type: EventModuleRegistered, Module: u.Name()})
	return nil
}

// Get returns a registered unit by name.
func (m *Manager) Get(name string) (*Unit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[name]
	return u, ok
}

// List returns all units in registration order.
func (m *Manager) List() []*Unit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Unit, 0, len(m.order))
	for _, name := range m.order {
		result = append(result, m.units[name])
	}
	return result
}

// ListEnabled returns enabled units in registration order.
func (m *Manager) ListEnabled() []*Unit {
	var result []*Unit
	for _, u := range m.List() {
		if u.IsEnabled() {
			result = append(result, u)
		}
	}
	return result
}

// Count returns the number of registered units.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.units)
}

// Enable enables name and, first, everything it transitively depends on.
func (m *Manager) Enable(ctx context.Context, name string) error {
	plan, err := m.dependencyPlan(name)
	if err != nil {
		m.emit(ManagerEvent{Type: EventModuleError, Module: name, Error: err})
		return err
	}

	for _, u := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		if u.IsEnabled() {
			continue
		}
		u.Enable()
		m.emit(ManagerEvent{Type: EventModuleEnabled, Module: u.Name()})
	}
	return nil
}

// Disable disables every enabled module that transitively depends on name,
// dependents first, then name itself.
func (m *Manager) Disable(ctx context.Context, name string) error {
	if _, ok := m.Get(name); !ok {
		err := fmt.Errorf("module %q: %w", name, ErrModuleNotFound)
		m.emit(ManagerEvent{Type: EventModuleError, Module: name, Error: err})
		return err
	}

	order, err := m.Order()
	if err != nil {
		m.emit(ManagerEvent{Type: EventModuleError, Module: name, Error: err})
		return err
	}

	affected := m.dependents(name)
	affected[name] = true

	// Reverse topological order puts dependents before their dependencies.
	for i := len(order) - 1; i >= 0; i-- {
		u := order[i]
		if !affected[u.Name()] || !u.IsEnabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		u.Disable()
		m.emit(ManagerEvent{Type: EventModuleDisabled, Module: u.Name()})
	}
	return nil
}

// EnableAll enables every registered module in dependency order.
func (m *Manager) EnableAll(ctx context.Context) error {
	var errs []error
	for _, u := range m.List() {
		if err := m.Enable(ctx, u.Name()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to enable %d modules: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// DisableAll disables every module, dependents first.
func (m *Manager) DisableAll(ctx context.Context) error {
	order, err := m.Order()
	if err != nil {
		return err
	}
	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		u := order[i]
		if !u.IsEnabled() {
			continue
		}
		u.Disable()
		m.emit(ManagerEvent{Type: EventModuleDisabled, Module: u.Name()})
	}
	return nil
}

// SetEnabled enables or disables name.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if enabled {
		return m.Enable(ctx, name)
	}
	return m.Disable(ctx, name)
}

// Order returns all registered units in dependency order (dependencies
// before dependents). Dependencies on unregistered modules are ignored.
func (m *Manager) Order() ([]*Unit, error) {
	var (
		result   []*Unit
		visiting = make(map[string]bool)
		done     = make(map[string]bool)
	)

	var visit func(u *Unit, path []string) error
	visit = func(u *Unit, path []string) error {
		name := u.Name()
		if done[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("%w: %v", ErrCyclicDependency, append(path, name))
		}
		visiting[name] = true
		for _, d := range u.Dependencies() {
			du, ok := m.Get(d.Name())
			if !ok {
				continue
			}
			if err := visit(du, append(path, name)); err != nil {
				return err
			}
		}
		visiting[name] = false
		done[name] = true
		result = append(result, u)
		return nil
	}

	for _, u := range m.List() {
		if err := visit(u, nil); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Subscribe adds an event handler and returns a function removing it.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	index := len(m.handlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.handlers) {
			m.handlers[index] = nil
		}
	}
}

// dependencyPlan returns name's transitive dependencies followed by name,
// dependencies first.
func (m *Manager) dependencyPlan(name string) ([]*Unit, error) {
	root, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("module %q: %w", name, ErrModuleNotFound)
	}

	var (
		plan     []*Unit
		visiting = make(map[string]bool)
		done     = make(map[string]bool)
	)

	var visit func(u *Unit, path []string) error
	visit = func(u *Unit, path []string) error {
		n := u.Name()
		if done[n] {
			return nil
		}
		if visiting[n] {
			return fmt.Errorf("%w: %v", ErrCyclicDependency, append(path, n))
		}
		visiting[n] = true
		for _, d := range u.Dependencies() {
			du, ok := m.Get(d.Name())
			if !ok {
				return fmt.Errorf("module %q requires %q: %w", n, d.Name(), ErrDependencyNotFound)
			}
			if err := visit(du, append(path, n)); err != nil {
				return err
			}
		}
		visiting[n] = false
		done[n] = true
		plan = append(plan, u)
		return nil
	}

	if err := visit(root, nil); err != nil {
		return nil, err
	}
	return plan, nil
}

// dependents returns the names of every module that transitively depends on name.
func (m *Manager) dependents(name string) map[string]bool {
	reverse := make(map[string][]string)
	for _, u := range m.List() {
		for _, d := range u.Dependencies() {
			reverse[d.Name()] = append(reverse[d.Name()], u.Name())
		}
	}

	result := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range reverse[cur] {
			if !result[dep] {
				result[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return result
}

// emit sends an event to all handlers outside any locks.
func (m *Manager) emit(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	if event.Error != nil {
		m.log.Warn("module lifecycle error", "module", event.Module, "error", event.Error)
	} else {
		m.log.Debug("module lifecycle", "module", event.Module, "event", event.Type.String())
	}

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				recover() // Ignore panics from handlers
			}()
			handler(event)
		}()
	}
}
