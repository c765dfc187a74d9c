package event

import (
	"context"
	"fmt"

	"github.com/dshills/recode/internal/module"
)

// HookListener transforms the current result of a host chain. Each listener
// receives the result produced by the listeners before it.
type HookListener[T, R any] func(c T, result R) R

// HostEvent is a host-owned ordered listener chain with listener type L.
type HostEvent[L any] interface {
	// Register appends l at the default phase.
	Register(l L)

	// RegisterPhase appends l at phase. Unknown phases are an error.
	RegisterPhase(phase string, l L) error

	// Invoker returns a listener that runs the whole chain.
	Invoker() L
}

// FoldListeners returns a listener running listeners in order, threading
// the result through each.
func FoldListeners[T, R any](listeners []HookListener[T, R]) HookListener[T, R] {
	return func(c T, result R) R {
		for _, l := range listeners {
			result = l(c, result)
		}
		return result
	}
}

// Wrapped adapts a HostEvent into a Listenable. Every invocation of the
// host chain is rebroadcast through an internal signal, whatever other
// listeners are registered.
type Wrapped[T, R, L any] struct {
	opts      options
	host      HostEvent[L]
	transform func(HookListener[T, R]) L
	signal    *Flow[T, struct{}]
}

// Wrap registers a rebroadcast listener on host, once, and returns the
// adapter. transform converts framework listeners to the host's shape.
// Reactions are queued on the mutation thread reached through d. Use
// AtPhase to register the rebroadcast listener at a specific phase.
func Wrap[T, R, L any](d Dispatcher, host HostEvent[L], transform func(HookListener[T, R]) L, opts ...Option) (*Wrapped[T, R, L], error) {
	if host == nil {
		return nil, ErrNilHost
	}
	if transform == nil {
		return nil, ErrNilDerive
	}
	signal, err := NewSignal[T](d, append([]Option{WithName("hook")}, opts...)...)
	if err != nil {
		return nil, err
	}

	w := &Wrapped[T, R, L]{
		opts:      signal.opts,
		host:      host,
		transform: transform,
		signal:    signal,
	}

	// The host decides where its chain runs, so subscribers may be
	// notified off the mutation thread. Reactions are queued there and the
	// chain does not wait for them.
	rebroadcast := transform(func(c T, result R) R {
		w.signal.broadcast(context.Background(), c)
		return result
	})
	if w.opts.phase != "" {
		if err := host.RegisterPhase(w.opts.phase, rebroadcast); err != nil {
			return nil, fmt.Errorf("wrap %s: %w", w.opts.name, err)
		}
	} else {
		host.Register(rebroadcast)
	}
	return w, nil
}

// Notifications implements Listenable.
func (w *Wrapped[T, R, L]) Notifications(ctx context.Context, m module.Module) <-chan T {
	return w.signal.Notifications(ctx, m)
}

// React registers fn to run on the mutation thread for every invocation of
// the host chain while m is enabled.
func (w *Wrapped[T, R, L]) React(m module.Module, fn func(ctx context.Context, c T)) {
	w.signal.React(m, fn)
}

// ReactUntil implements Reactor.
func (w *Wrapped[T, R, L]) ReactUntil(ctx context.Context, m module.Module, fn func(ctx context.Context, c T)) {
	w.signal.ReactUntil(ctx, m, fn)
}

// Invoker returns the host's raw invoker.
func (w *Wrapped[T, R, L]) Invoker() L {
	return w.host.Invoker()
}

// Register adds listener to the host chain without module gating.
func (w *Wrapped[T, R, L]) Register(listener HookListener[T, R]) {
	w.host.Register(w.transform(listener))
}

// HookFrom adds listener to the host chain at the default phase. While m is
// disabled the listener is skipped and the result passes through.
func (w *Wrapped[T, R, L]) HookFrom(m module.Module, listener HookListener[T, R]) {
	w.host.Register(w.transform(gated(m, listener)))
}

// HookFromPhase is HookFrom at a specific phase.
func (w *Wrapped[T, R, L]) HookFromPhase(m module.Module, phase string, listener HookListener[T, R]) error {
	if err := w.host.RegisterPhase(phase, w.transform(gated(m, listener))); err != nil {
		return fmt.Errorf("hook %s from %s: %w", w.opts.name, m.Name(), err)
	}
	return nil
}

func gated[T, R any](m module.Module, listener HookListener[T, R]) HookListener[T, R] {
	return func(c T, result R) R {
		if !m.IsEnabled() {
			return result
		}
		return listener(c, result)
	}
}

// PhasedHook wraps a host chain whose listeners already have the
// framework's shape, and records the result of each direct run.
type PhasedHook[T, R any] struct {
	*Wrapped[T, R, HookListener[T, R]]
	previous Cell[R]
}

// NewPhasedHook wraps host without a listener transform.
func NewPhasedHook[T, R any](d Dispatcher, host HostEvent[HookListener[T, R]], opts ...Option) (*PhasedHook[T, R], error) {
	w, err := Wrap(d, host, func(l HookListener[T, R]) HookListener[T, R] { return l }, opts...)
	if err != nil {
		return nil, err
	}
	return &PhasedHook[T, R]{Wrapped: w}, nil
}

// Run invokes the host chain with initial as the starting result and
// records the outcome.
func (h *PhasedHook[T, R]) Run(c T, initial R) R {
	result := h.Invoker()(c, initial)
	h.previous.Store(result)
	return result
}

// Previous returns the result of the most recent Run.
func (h *PhasedHook[T, R]) Previous() (R, bool) {
	return h.previous.Load()
}
