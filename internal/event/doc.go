// Package event provides the notification framework that sits between the
// client runtime and feature modules.
//
// Every event has two outputs: a raw notification stream of context values
// and a derived result, cached as the event's previous result.
//
//	               Run(ctx, c)
//	                    │
//	                    ▼
//	┌──────────────────────────────────────────┐
//	│                  Flow                    │
//	│  1. broadcast c to every subscriber      │──► Notifications(ctx, m)
//	│  2. expedite work queued in reaction     │
//	│  3. derive result from c                 │
//	│  4. store result                         │──► Previous()
//	└──────────────────────────────────────────┘
//
// # Mutation Thread
//
// Run always executes on the designated mutation thread, reached through a
// Dispatcher (see internal/mainthread). When called elsewhere, Run posts to
// the dispatcher and waits. Reactions registered with React or ListenEach
// are queued on the mutation thread in step 1 and executed in step 2,
// together with any work they post, so their effects are visible to the
// derivation. A raw Notifications consumer runs on its own goroutine and
// gets no such ordering.
//
// # Delivery
//
// Each subscription holds a single pending value. A publish that finds the
// slot full replaces the pending value (drop-oldest). Publishing never
// blocks; if delivery ever could not complete immediately the publisher
// panics with an *InvariantError, which matches ErrSuspendingCollector.
//
// # Buffered Events
//
// Buffered wraps a Flow with a keyed stale-while-revalidate cache. Calls
// that hit the cache return the cached value immediately and, once every
// "passes" hits, schedule a background recompute on the owner module. The
// number of passes adapts to the caller's tick rate through Calibrate so a
// recompute happens roughly once per stable interval of wall-clock time.
//
// # Module Dependencies
//
// The Dependent* wrappers record a dependency edge from every subscribing
// module to a fixed module, then forward to the wrapped listenable
// unchanged.
//
// # Host Events
//
// Wrap adapts a host's ordered listener chain into a Listenable. Listeners
// registered with HookFrom are skipped while their module is disabled, and
// the chain's current result passes through them unchanged. Every
// invocation is rebroadcast through an internal signal, so React and
// ListenEach work on a wrapped chain as they do on any event.
package event
