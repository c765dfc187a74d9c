// Package mainthread provides the designated mutation thread.
//
// A Loop is a single-consumer work queue. Exactly one goroutine drives it,
// either by calling Run or by calling Tick from its own frame loop. Work runs
// with a context marked as "on the loop", which lets Call run inline instead
// of deadlocking when it is already executing on the loop.
package mainthread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/recode/internal/logging"
)

// ErrLoopClosed is returned when work is posted to a closed loop.
var ErrLoopClosed = errors.New("mutation loop is closed")

// Work is a unit of work executed on the loop.
type Work = func(ctx context.Context)

type loopKey struct{}

// fatal is implemented by panic values the loop must not contain.
type fatal interface {
	Fatal() bool
}

type item struct {
	ctx  context.Context
	work Work
}

// Loop is the mutation thread's work queue.
type Loop struct {
	mu     sync.Mutex
	queue  []item
	closed bool

	// wake has capacity 1 and coalesces Post notifications.
	wake chan struct{}

	// warnDepth logs a warning when the queue grows past it (0 disables).
	warnDepth int

	log *logging.Logger

	executed atomic.Uint64
	skipped  atomic.Uint64
	panicked atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *logging.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.log = l
		}
	}
}

// WithWarnDepth sets the queue depth above which Post logs a warning.
func WithWarnDepth(depth int) Option {
	return func(lp *Loop) {
		if depth >= 0 {
			lp.warnDepth = depth
		}
	}
}

// New creates a loop. Nothing executes until Run or Tick is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:      make(chan struct{}, 1),
		warnDepth: 1024,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithComponent("mainthread")
	return l
}

// OnLoop reports whether ctx was produced by work executing on l.
func (l *Loop) OnLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Post enqueues work. It never blocks. Work whose ctx is done by the time
// the loop reaches it is skipped.
func (l *Loop) Post(ctx context.Context, work Work) error {
	if work == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.queue = append(l.queue, item{ctx: ctx, work: work})
	depth := len(l.queue)
	l.mu.Unlock()

	if l.warnDepth > 0 && depth == l.warnDepth {
		l.log.Warn("mutation loop queue is backing up", "depth", depth)
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the loop and waits for it. If ctx is already on the loop,
// fn runs inline. A panic in fn is re-raised on the calling goroutine, so
// callers observe it exactly as if fn had run inline.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.OnLoop(ctx) {
		return fn(ctx)
	}

	type result struct {
		err       error
		recovered *panics.Recovered
	}
	done := make(chan result, 1)
	err := l.Post(ctx, func(loopCtx context.Context) {
		var pc panics.Catcher
		var res result
		pc.Try(func() { res.err = fn(loopCtx) })
		res.recovered = pc.Recovered()
		done <- res
	})
	if err != nil {
		return err
	}

	select {
	case res := <-done:
		if res.recovered != nil {
			l.log.Error("loop call panicked", "panic", res.recovered.Value, "stack", string(res.recovered.Stack))
			panic(res.recovered.Value)
		}
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Expedite executes everything queued so far, including work queued while
// draining, and returns the number of items executed. It must be called
// from work running on the loop; elsewhere it does nothing and returns 0.
func (l *Loop) Expedite(ctx context.Context) int {
	if !l.OnLoop(ctx) {
		l.log.Warn("expedite called off the mutation loop")
		return 0
	}
	return l.drain()
}

// Tick executes everything currently queued on the calling goroutine, which
// acts as the mutation thread for the duration of the call.
func (l *Loop) Tick() int {
	return l.drain()
}

// Run drives the loop on the calling goroutine until ctx is done or the
// loop is closed. Remaining work is drained before returning.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.drain()

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.drain()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting work and wakes Run so it can return.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stats returns execution counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Executed: l.executed.Load(),
		Skipped:  l.skipped.Load(),
		Panicked: l.panicked.Load(),
		Queued:   l.Len(),
	}
}

// Stats contains loop execution counters.
type Stats struct {
	Executed uint64
	Skipped  uint64
	Panicked uint64
	Queued   int
}

// drain pops and runs items until the queue is empty.
func (l *Loop) drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		it := l.queue[0]
		l.queue[0] = item{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if it.ctx.Err() != nil {
			l.skipped.Add(1)
			continue
		}
		l.execute(it)
		n++
	}
}

// execute runs one item with the submitter's values and cancellation, plus
// the loop marker. A panic is logged and contained unless its value reports
// itself Fatal, in which case it is re-raised on the loop goroutine.
func (l *Loop) execute(it item) {
	ctx := context.WithValue(it.ctx, loopKey{}, l)

	var pc panics.Catcher
	pc.Try(func() { it.work(ctx) })
	l.executed.Add(1)

	if r := pc.Recovered(); r != nil {
		l.panicked.Add(1)
		l.log.Error("loop work panicked", "panic", r.Value, "stack", string(r.Stack))
		if f, ok := r.Value.(fatal); ok && f.Fatal() {
			panic(r.Value)
		}
	}
}
