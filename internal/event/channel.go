package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Channel is a multi-subscriber broadcast with one pending slot per
// subscriber and drop-oldest overflow.
//
// Publish never blocks. Values published before a subscription are not
// replayed to it.
type Channel[T any] struct {
	name string

	// mu serializes publishers against each other and against changes to
	// the subscriber set, which makes drop-then-resend race free.
	mu   sync.Mutex
	subs map[string]chan T

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewChannel creates a channel. The name is used in invariant errors.
func NewChannel[T any](name string) *Channel[T] {
	return &Channel[T]{
		name: name,
		subs: make(map[string]chan T),
	}
}

// Subscribe returns a receive channel delivering values published from now
// until ctx is done, at which point the channel is closed.
func (c *Channel[T]) Subscribe(ctx context.Context) <-chan T {
	id := uuid.NewString()
	ch := make(chan T, 1)

	c.mu.Lock()
	c.subs[id] = ch
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// Publish delivers v to every current subscriber. A subscriber whose slot
// is still full loses its pending value to v.
func (c *Channel[T]) Publish(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.published.Add(1)
	for id, ch := range c.subs {
		select {
		case ch <- v:
			continue
		default:
		}

		select {
		case <-ch:
			c.dropped.Add(1)
		default:
		}

		// Only publishers send, and they hold mu, so the slot freed above
		// is still free. Reaching default means that no longer holds.
		select {
		case ch <- v:
		default:
			panic(&InvariantError{Event: c.name, Subscriber: id})
		}
	}
}

// Len returns the number of active subscriptions.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Published returns the number of Publish calls.
func (c *Channel[T]) Published() uint64 {
	return c.published.Load()
}

// Dropped returns the number of pending values replaced before delivery.
func (c *Channel[T]) Dropped() uint64 {
	return c.dropped.Load()
}
