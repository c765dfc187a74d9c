package module

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// Task is a unit of work bound to a module's active lifetime.
// The context is cancelled when the module is disabled or the task's
// Handle is cancelled.
type Task func(ctx context.Context) error

// Handle tracks a launched task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// finishedHandle returns a Handle that is already complete with err.
func finishedHandle(err error) *Handle {
	h := &Handle{
		cancel: func() {},
		done:   make(chan struct{}),
		err:    err,
	}
	close(h.done)
	return h
}

// Cancel requests cancellation of the task. It does not wait.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done returns a channel closed when the task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task returns or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes task, converting a panic into an error.
func (h *Handle) run(ctx context.Context, task Task) {
	defer close(h.done)
	defer h.cancel()

	var pc panics.Catcher
	pc.Try(func() {
		h.err = task(ctx)
	})
	if r := pc.Recovered(); r != nil {
		h.err = fmt.Errorf("%w: %v", ErrTaskPanic, r.AsError())
	}
}
