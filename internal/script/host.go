package script

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/recode/internal/event"
	"github.com/dshills/recode/internal/module"
)

// Binder attaches a script function to a hook. phase is empty for the
// default phase.
type Binder func(fn *lua.LFunction, phase string) error

// Host loads scripts into a State and routes their hook calls to binders.
type Host struct {
	state *State

	mu      sync.Mutex
	binders map[string]Binder
	loaded  []string

	listeners atomic.Int64
	failures  atomic.Int64
}

// NewHost installs the hook global into s.
func NewHost(s *State) *Host {
	h := &Host{
		state:   s,
		binders: make(map[string]Binder),
	}
	s.Register("hook", h.hook)
	return h
}

// State returns the underlying state.
func (h *Host) State() *State {
	return h.state
}

// Bind makes name available to scripts.
func (h *Host) Bind(name string, b Binder) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.binders[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHook, name)
	}
	h.binders[name] = b
	return nil
}

// Hooks returns the bound hook names, sorted.
func (h *Host) Hooks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.binders))
	for name := range h.binders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile runs the script at path.
func (h *Host) LoadFile(path string) error {
	if err := h.state.DoFile(path); err != nil {
		return fmt.Errorf("load script %s: %w", filepath.Base(path), err)
	}
	h.mu.Lock()
	h.loaded = append(h.loaded, path)
	h.mu.Unlock()
	h.state.log.Info("script loaded", "path", path)
	return nil
}

// LoadString runs code under name.
func (h *Host) LoadString(name, code string) error {
	if err := h.state.DoString(code); err != nil {
		return fmt.Errorf("load script %s: %w", name, err)
	}
	h.mu.Lock()
	h.loaded = append(h.loaded, name)
	h.mu.Unlock()
	return nil
}

// Loaded returns the scripts loaded so far, in order.
func (h *Host) Loaded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.loaded...)
}

// Stats reports listeners registered and listener calls that failed.
func (h *Host) Stats() (listeners, failures int64) {
	return h.listeners.Load(), h.failures.Load()
}

// hook implements hook(name, [phase,] fn).
func (h *Host) hook(L *lua.LState) int {
	name := L.CheckString(1)
	phase := ""
	fn, ok := L.Get(2).(*lua.LFunction)
	if !ok {
		phase = L.CheckString(2)
		fn = L.CheckFunction(3)
	}

	h.mu.Lock()
	b, bound := h.binders[name]
	h.mu.Unlock()
	if !bound {
		L.RaiseError("%v: %s", ErrUnknownHook, name)
		return 0
	}
	if err := b(fn, phase); err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	h.listeners.Add(1)
	return 0
}

// Listener adapts fn to a hook listener. Failures and unusable return
// values are logged and leave the result unchanged.
func Listener[T, R any](h *Host, name string, fn *lua.LFunction) event.HookListener[T, R] {
	return func(c T, result R) R {
		ret, err := h.state.Call(context.Background(), fn, c, result)
		if err != nil {
			h.failures.Add(1)
			h.state.log.Warn("script listener failed", "hook", name, "error", err)
			return result
		}
		if ret == nil {
			return result
		}
		out, ok := As[R](ret)
		if !ok {
			h.failures.Add(1)
			h.state.log.Warn("script listener returned unusable value", "hook", name, "type", describe(ret))
			return result
		}
		return out
	}
}

// BindHook exposes w to scripts as name. Script listeners are gated on m.
func BindHook[T, R, L any](h *Host, name string, w *event.Wrapped[T, R, L], m module.Module) error {
	return h.Bind(name, func(fn *lua.LFunction, phase string) error {
		l := Listener[T, R](h, name, fn)
		if phase == "" {
			w.HookFrom(m, l)
			return nil
		}
		return w.HookFromPhase(m, phase, l)
	})
}
