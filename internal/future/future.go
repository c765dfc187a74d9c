// Package future provides a write-once value that can be awaited.
//
// Capabilities that resolve asynchronously, such as a player's permissions
// on a server, are exposed as a Future rather than a plain field so callers
// decide where to wait.
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyResolved is returned when completing a future twice.
var ErrAlreadyResolved = errors.New("future already resolved")

// Future is a value of type T that becomes available once.
// The zero value is not usable; use New.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New creates an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	_ = f.Complete(v)
	return f
}

// Complete resolves the future with v.
func (f *Future[T]) Complete(v T) error {
	return f.resolve(v, nil)
}

// Fail resolves the future with err.
func (f *Future[T]) Fail(err error) error {
	var zero T
	return f.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) error {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		resolved = true
	})
	if !resolved {
		return ErrAlreadyResolved
	}
	return nil
}

// Done returns a channel closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the value without waiting. ok is false while unresolved or
// when the future failed.
func (f *Future[T]) Peek() (v T, ok bool) {
	select {
	case <-f.done:
		if f.err != nil {
			return v, false
		}
		return f.value, true
	default:
		return v, false
	}
}
