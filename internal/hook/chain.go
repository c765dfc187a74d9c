// Package hook provides an ordered, phase-aware listener chain.
//
// A Chain is the host side of a hook: feature code registers listeners at
// named phases and the host calls the chain's invoker, which runs every
// listener phase by phase in registration order. How listeners combine is
// decided by the combine function given to New.
package hook

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// DefaultPhase is the phase used by Register.
const DefaultPhase = "default"

// ErrUnknownPhase is returned when registering at a phase the chain does not have.
var ErrUnknownPhase = errors.New("unknown hook phase")

// Chain is an ordered listener chain with listener type L.
type Chain[L any] struct {
	mu        sync.RWMutex
	phases    []string
	listeners map[string][]L
	combine   func([]L) L

	// invoker is rebuilt on every registration so invocation never locks
	// for longer than a read.
	invoker L
}

// New creates a chain. Listeners run phase by phase in the order given.
// DefaultPhase is placed first unless phases names it explicitly.
// combine builds a single listener from an ordered slice of listeners; it
// must handle an empty slice.
func New[L any](combine func([]L) L, phases ...string) *Chain[L] {
	ordered := make([]string, 0, len(phases)+1)
	if !slices.Contains(phases, DefaultPhase) {
		ordered = append(ordered, DefaultPhase)
	}
	for _, p := range phases {
		if !slices.Contains(ordered, p) {
			ordered = append(ordered, p)
		}
	}

	c := &Chain[L]{
		phases:    ordered,
		listeners: make(map[string][]L, len(ordered)),
		combine:   combine,
	}
	c.invoker = combine(nil)
	return c
}

// Register appends l at DefaultPhase.
func (c *Chain[L]) Register(l L) {
	// DefaultPhase always exists.
	_ = c.RegisterPhase(DefaultPhase, l)
}

// RegisterPhase appends l at phase.
func (c *Chain[L]) RegisterPhase(phase string, l L) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.phases, phase) {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	c.listeners[phase] = append(c.listeners[phase], l)
	c.rebuild()
	return nil
}

// Invoker returns a listener running the chain as registered at the time of
// the call.
func (c *Chain[L]) Invoker() L {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invoker
}

// Phases returns the phase order.
func (c *Chain[L]) Phases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.phases)
}

// Len returns the number of registered listeners.
func (c *Chain[L]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, ls := range c.listeners {
		n += len(ls)
	}
	return n
}

// rebuild recomputes the invoker. Callers must hold c.mu.
func (c *Chain[L]) rebuild() {
	var ordered []L
	for _, p := range c.phases {
		ordered = append(ordered, c.listeners[p]...)
	}
	c.invoker = c.combine(ordered)
}
