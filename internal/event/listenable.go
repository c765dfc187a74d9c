package event

import (
	"context"

	"github.com/dshills/recode/internal/module"
)

// Listenable is a source of raw notifications.
type Listenable[T any] interface {
	// Notifications subscribes m and returns values published from now on
	// until ctx is done. The channel is closed when ctx is done. History is
	// not replayed.
	Notifications(ctx context.Context, m module.Module) <-chan T
}

// ResultListenable is a Listenable that also exposes its last result.
type ResultListenable[T, R any] interface {
	Listenable[T]

	// Previous returns the most recent result, or false if none exists yet.
	Previous() (R, bool)
}

// Event derives a result from each context value it publishes.
type Event[T, R any] interface {
	ResultListenable[T, R]

	// Run publishes c, expedites reactions queued on the mutation thread,
	// derives and stores the result, and returns it.
	Run(ctx context.Context, c T) (R, error)
}

// BufferedEvent serves cached results keyed by input and refreshes them in
// the background at an adaptive rate.
type BufferedEvent[T, R, I any] interface {
	ResultListenable[T, R]

	// Run returns the cached result for in's key, computing it synchronously
	// on a miss.
	Run(ctx context.Context, in I) (R, error)

	// Calibrate marks one external pass. It should be called once per tick.
	Calibrate()
}

// Dispatcher reaches the designated mutation thread.
// *mainthread.Loop implements it.
type Dispatcher interface {
	// Post queues work for the mutation thread without waiting.
	Post(ctx context.Context, work func(ctx context.Context)) error

	// Call runs fn on the mutation thread and waits for it.
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// Expedite runs everything queued on the mutation thread so far. ctx
	// must come from work running on the mutation thread.
	Expedite(ctx context.Context) int
}

// Reactor is a Listenable that can run handlers on the mutation thread as
// part of each broadcast. *Flow, *Buffered and *Wrapped implement it.
type Reactor[T any] interface {
	Listenable[T]

	// ReactUntil runs fn on the mutation thread for every value broadcast
	// while m is enabled, until ctx is done. Registration is active when
	// ReactUntil returns.
	ReactUntil(ctx context.Context, m module.Module, fn func(ctx context.Context, c T))
}

// ListenEach launches a task on m that calls fn for every notification from
// l until m is disabled or the returned handle is cancelled. The
// subscription is active when ListenEach returns.
//
// When l is a Reactor, fn runs on the mutation thread during the broadcast,
// so an event's result sees its effects. Other Listenables are drained on
// the task's goroutine.
func ListenEach[T any](l Listenable[T], m module.Module, fn func(ctx context.Context, v T)) *module.Handle {
	ready := make(chan struct{})
	h := m.Launch(func(ctx context.Context) error {
		if r, ok := l.(Reactor[T]); ok {
			r.ReactUntil(ctx, m, fn)
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		}

		values := l.Notifications(ctx, m)
		close(ready)
		for v := range values {
			fn(ctx, v)
		}
		return ctx.Err()
	})

	select {
	case <-ready:
	case <-h.Done():
	}
	return h
}
