package event

import (
	"context"

	"github.com/dshills/recode/internal/module"
)

// depend records that subscriber depends on dependency.
func depend(subscriber, dependency module.Module) {
	if subscriber != nil && dependency != nil {
		subscriber.Depend(dependency)
	}
}

// DependentListenable makes every subscribing module depend on a fixed
// module. Notifications are forwarded unchanged.
type DependentListenable[T any] struct {
	delegate   Listenable[T]
	dependency module.Module
}

// NewDependentListenable wraps l with a dependency on dependency.
func NewDependentListenable[T any](l Listenable[T], dependency module.Module) *DependentListenable[T] {
	return &DependentListenable[T]{delegate: l, dependency: dependency}
}

// Notifications implements Listenable.
func (d *DependentListenable[T]) Notifications(ctx context.Context, m module.Module) <-chan T {
	depend(m, d.dependency)
	return d.delegate.Notifications(ctx, m)
}

// ReactUntil implements Reactor. A delegate that is not a Reactor is
// drained on a separate goroutine instead.
func (d *DependentListenable[T]) ReactUntil(ctx context.Context, m module.Module, fn func(ctx context.Context, c T)) {
	if r, ok := d.delegate.(Reactor[T]); ok {
		depend(m, d.dependency)
		r.ReactUntil(ctx, m, fn)
		return
	}
	values := d.Notifications(ctx, m)
	go func() {
		for v := range values {
			fn(ctx, v)
		}
	}()
}

// Dependency returns the module subscribers are made to depend on.
func (d *DependentListenable[T]) Dependency() module.Module {
	return d.dependency
}

// DependentResult is DependentListenable for a ResultListenable.
type DependentResult[T, R any] struct {
	*DependentListenable[T]
	delegate ResultListenable[T, R]
}

// NewDependentResult wraps l with a dependency on dependency.
func NewDependentResult[T, R any](l ResultListenable[T, R], dependency module.Module) *DependentResult[T, R] {
	return &DependentResult[T, R]{
		DependentListenable: NewDependentListenable[T](l, dependency),
		delegate:            l,
	}
}

// Previous implements ResultListenable.
func (d *DependentResult[T, R]) Previous() (R, bool) {
	return d.delegate.Previous()
}

// DependentEvent is DependentListenable for an Event.
type DependentEvent[T, R any] struct {
	*DependentResult[T, R]
	delegate Event[T, R]
}

// NewDependentEvent wraps e with a dependency on dependency.
func NewDependentEvent[T, R any](e Event[T, R], dependency module.Module) *DependentEvent[T, R] {
	return &DependentEvent[T, R]{
		DependentResult: NewDependentResult[T, R](e, dependency),
		delegate:        e,
	}
}

// Run implements Event.
func (d *DependentEvent[T, R]) Run(ctx context.Context, c T) (R, error) {
	return d.delegate.Run(ctx, c)
}

// DependentBuffered is DependentListenable for a BufferedEvent.
type DependentBuffered[T, R, I any] struct {
	*DependentResult[T, R]
	delegate BufferedEvent[T, R, I]
}

// NewDependentBuffered wraps e with a dependency on dependency.
func NewDependentBuffered[T, R, I any](e BufferedEvent[T, R, I], dependency module.Module) *DependentBuffered[T, R, I] {
	return &DependentBuffered[T, R, I]{
		DependentResult: NewDependentResult[T, R](e, dependency),
		delegate:        e,
	}
}

// Run implements BufferedEvent.
func (d *DependentBuffered[T, R, I]) Run(ctx context.Context, in I) (R, error) {
	return d.delegate.Run(ctx, in)
}

// Calibrate implements BufferedEvent.
func (d *DependentBuffered[T, R, I]) Calibrate() {
	d.delegate.Calibrate()
}
