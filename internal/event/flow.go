package event

import (
	"context"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dshills/recode/internal/module"
)

// Flow is the default Event implementation.
type Flow[T, R any] struct {
	opts     options
	dispatch Dispatcher
	derive   func(T) (R, error)
	channel  *Channel[T]
	previous Cell[R]

	reactMu   sync.RWMutex
	reactions []*reaction[T]
}

// reaction runs fn on the mutation thread for each broadcast while owner is
// enabled and until is not done.
type reaction[T any] struct {
	owner module.Module
	until context.Context
	fn    func(ctx context.Context, c T)
}

// New creates an event that derives its result from each context value
// with derive. Run executes on the mutation thread reached through d.
func New[T, R any](d Dispatcher, derive func(T) (R, error), opts ...Option) (*Flow[T, R], error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	if derive == nil {
		return nil, ErrNilDerive
	}

	o := buildOptions("event", opts)
	return &Flow[T, R]{
		opts:     o,
		dispatch: d,
		derive:   derive,
		channel:  NewChannel[T](o.name),
	}, nil
}

// NewSignal creates an event whose only output is its notifications.
func NewSignal[T any](d Dispatcher, opts ...Option) (*Flow[T, struct{}], error) {
	return New(d, func(T) (struct{}, error) { return struct{}{}, nil }, opts...)
}

// Name returns the event name.
func (f *Flow[T, R]) Name() string {
	return f.opts.name
}

// Notifications implements Listenable.
func (f *Flow[T, R]) Notifications(ctx context.Context, _ module.Module) <-chan T {
	return f.channel.Subscribe(ctx)
}

// Previous implements ResultListenable.
func (f *Flow[T, R]) Previous() (R, bool) {
	return f.previous.Load()
}

// Subscribers returns the number of active notification subscriptions.
func (f *Flow[T, R]) Subscribers() int {
	return f.channel.Len()
}

// React registers fn to run on the mutation thread for every context value
// Run publishes while m is enabled. Reactions are queued during the
// broadcast, so they complete before the result is derived.
func (f *Flow[T, R]) React(m module.Module, fn func(ctx context.Context, c T)) {
	f.addReaction(&reaction[T]{owner: m, until: context.Background(), fn: fn})
}

// ReactUntil implements Reactor. The reaction is removed when ctx is done.
func (f *Flow[T, R]) ReactUntil(ctx context.Context, m module.Module, fn func(ctx context.Context, c T)) {
	r := &reaction[T]{owner: m, until: ctx, fn: fn}
	f.addReaction(r)
	context.AfterFunc(ctx, func() {
		f.reactMu.Lock()
		defer f.reactMu.Unlock()
		f.reactions = slices.DeleteFunc(f.reactions, func(x *reaction[T]) bool { return x == r })
	})
}

func (f *Flow[T, R]) addReaction(r *reaction[T]) {
	f.reactMu.Lock()
	defer f.reactMu.Unlock()
	f.reactions = append(f.reactions, r)
}

// reactionCount returns the number of registered reactions.
func (f *Flow[T, R]) reactionCount() int {
	f.reactMu.RLock()
	defer f.reactMu.RUnlock()
	return len(f.reactions)
}

// Run implements Event. A derivation error is returned unchanged and leaves
// the previous result as it was. A run whose ctx is done before its result
// is derived returns the ctx error and does not update Previous.
func (f *Flow[T, R]) Run(ctx context.Context, c T) (R, error) {
	out := make(chan R, 1)
	err := f.dispatch.Call(ctx, func(ctx context.Context) error {
		ctx, span := f.opts.tracer.Start(ctx, f.opts.name+".run")
		defer span.End()

		f.broadcast(ctx, c)
		if n := f.dispatch.Expedite(ctx); n > 0 {
			span.SetAttributes(attribute.Int("event.expedited", n))
		}

		r, err := f.derive(c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "derive failed")
			return err
		}
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return err
		}
		f.previous.Store(r)
		out <- r
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	// Call returned nil, so the work above completed and filled out.
	return <-out, nil
}

// broadcast publishes c to subscribers and queues its reactions on the
// mutation thread without waiting for them.
func (f *Flow[T, R]) broadcast(ctx context.Context, c T) {
	f.channel.Publish(c)

	f.reactMu.RLock()
	defer f.reactMu.RUnlock()

	for _, r := range f.reactions {
		if r.until.Err() != nil || !r.owner.IsEnabled() {
			continue
		}
		err := f.dispatch.Post(ctx, func(ctx context.Context) {
			if r.until.Err() != nil {
				return
			}
			r.fn(ctx, c)
		})
		if err != nil {
			f.opts.log.Warn("reaction not queued", "module", r.owner.Name(), "error", err)
		}
	}
}
