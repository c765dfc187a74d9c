package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dshills/recode/internal/module"
)

// DefaultCacheDuration is the cache duration used when none is configured.
const DefaultCacheDuration = time.Second

// BufferedConfig configures a Buffered event.
type BufferedConfig[T, I any, K comparable] struct {
	// StableInterval is the target wall-clock time between background
	// recomputes of a cached key. Required.
	StableInterval time.Duration

	// KeySelector maps an input to its cache key. Required.
	KeySelector func(I) K

	// ContextGenerator maps an input to the context the event derives
	// from. It is only called when a result is computed. Required.
	ContextGenerator func(I) T

	// CacheDuration evicts entries not read for this long.
	// Defaults to DefaultCacheDuration.
	CacheDuration time.Duration

	// Owner runs background recomputes, which are cancelled while it is
	// disabled. Defaults to a private, always enabled module.
	Owner module.Module
}

// BufferedStats contains cache and refresh counters.
type BufferedStats struct {
	Hits            uint64
	Misses          uint64
	Refreshes       uint64
	RefreshFailures uint64
	RefreshesMerged uint64
	Evictions       uint64
	Passes          int
	Entries         int
}

// Buffered is the default BufferedEvent implementation.
type Buffered[T, R, I any, K comparable] struct {
	opts     options
	cfg      BufferedConfig[T, I, K]
	flow     *Flow[T, R]
	events   *DependentEvent[T, R]
	cache    *ttlcache.Cache[K, R]
	previous Cell[R]

	stab *stabilizer

	inflightMu sync.Mutex
	inflight   map[K]struct{}

	hits            atomic.Uint64
	misses          atomic.Uint64
	refreshes       atomic.Uint64
	refreshFailures atomic.Uint64
	refreshesMerged atomic.Uint64
	evictions       atomic.Uint64
}

// NewBuffered creates a buffered event deriving results with derive.
func NewBuffered[T, R, I any, K comparable](
	d Dispatcher,
	derive func(T) (R, error),
	cfg BufferedConfig[T, I, K],
	opts ...Option,
) (*Buffered[T, R, I, K], error) {
	if cfg.StableInterval <= 0 {
		return nil, fmt.Errorf("stable interval %v: %w", cfg.StableInterval, ErrInvalidInterval)
	}
	if cfg.CacheDuration < 0 {
		return nil, fmt.Errorf("cache duration %v: %w", cfg.CacheDuration, ErrInvalidInterval)
	}
	if cfg.CacheDuration == 0 {
		cfg.CacheDuration = DefaultCacheDuration
	}
	if cfg.KeySelector == nil || cfg.ContextGenerator == nil {
		return nil, ErrNilSelector
	}

	flow, err := New(d, derive, opts...)
	if err != nil {
		return nil, err
	}

	o := flow.opts
	if cfg.Owner == nil {
		cfg.Owner = module.New(o.name+".buffer", module.Enabled(), module.WithLogger(o.log))
	}

	b := &Buffered[T, R, I, K]{
		opts:     o,
		cfg:      cfg,
		flow:     flow,
		events:   NewDependentEvent[T, R](flow, cfg.Owner),
		cache:    ttlcache.New[K, R](ttlcache.WithTTL[K, R](cfg.CacheDuration)),
		inflight: make(map[K]struct{}),
		stab:     newStabilizer(cfg.StableInterval, o.now),
	}
	b.cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, _ *ttlcache.Item[K, R]) {
		b.evictions.Add(1)
	})
	return b, nil
}

// Notifications implements Listenable. Subscribers depend on the owner module.
func (b *Buffered[T, R, I, K]) Notifications(ctx context.Context, m module.Module) <-chan T {
	return b.events.Notifications(ctx, m)
}

// React registers fn as a reaction of the underlying event. See Flow.React.
func (b *Buffered[T, R, I, K]) React(m module.Module, fn func(ctx context.Context, c T)) {
	b.flow.React(m, fn)
}

// ReactUntil implements Reactor. Like subscribers, m depends on the owner
// module.
func (b *Buffered[T, R, I, K]) ReactUntil(ctx context.Context, m module.Module, fn func(ctx context.Context, c T)) {
	b.events.ReactUntil(ctx, m, fn)
}

// Previous implements ResultListenable.
func (b *Buffered[T, R, I, K]) Previous() (R, bool) {
	return b.previous.Load()
}

// Owner returns the module that runs background recomputes.
func (b *Buffered[T, R, I, K]) Owner() module.Module {
	return b.cfg.Owner
}

// Calibrate implements BufferedEvent.
func (b *Buffered[T, R, I, K]) Calibrate() {
	b.stab.calibrate()
}

// Run implements BufferedEvent. On a miss the result is computed
// synchronously and cached. On a hit the cached result is returned and,
// every Passes hits, a background recompute of the key is scheduled on the
// owner module.
func (b *Buffered[T, R, I, K]) Run(ctx context.Context, in I) (R, error) {
	key := b.cfg.KeySelector(in)

	if item := b.cache.Get(key); item != nil {
		b.hits.Add(1)
		result := item.Value()
		if b.stab.hit() {
			b.refresh(key, in)
		}
		b.previous.Store(result)
		return result, nil
	}

	b.misses.Add(1)
	result, err := b.flow.Run(ctx, b.cfg.ContextGenerator(in))
	if err != nil {
		var zero R
		return zero, err
	}
	b.cache.Set(key, result, ttlcache.DefaultTTL)
	b.previous.Store(result)
	return result, nil
}

// refresh schedules a background recompute of key unless one is in flight.
func (b *Buffered[T, R, I, K]) refresh(key K, in I) {
	b.inflightMu.Lock()
	if _, busy := b.inflight[key]; busy {
		b.inflightMu.Unlock()
		b.refreshesMerged.Add(1)
		return
	}
	b.inflight[key] = struct{}{}
	b.inflightMu.Unlock()

	b.refreshes.Add(1)
	h := b.cfg.Owner.Launch(func(ctx context.Context) error {
		defer b.release(key)

		ctx, span := b.opts.tracer.Start(ctx, b.opts.name+".refresh")
		defer span.End()

		result, err := b.flow.Run(ctx, b.cfg.ContextGenerator(in))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				b.refreshFailures.Add(1)
				span.RecordError(err)
				span.SetStatus(codes.Error, "refresh failed")
				b.opts.log.Warn("background refresh failed, keeping cached value", "key", fmt.Sprint(key), "error", err)
			}
			return err
		}
		b.cache.Set(key, result, ttlcache.DefaultTTL)
		span.SetAttributes(attribute.Int("event.cache.entries", b.cache.Len()))
		return nil
	})

	// A disabled owner never runs the task.
	select {
	case <-h.Done():
		if errors.Is(h.Err(), module.ErrModuleDisabled) {
			b.release(key)
		}
	default:
	}
}

func (b *Buffered[T, R, I, K]) release(key K) {
	b.inflightMu.Lock()
	delete(b.inflight, key)
	b.inflightMu.Unlock()
}

// Invalidate removes key from the cache so the next Run recomputes it.
func (b *Buffered[T, R, I, K]) Invalidate(key K) {
	b.cache.Delete(key)
}

// Sweep evicts expired entries. Expired entries are never served even when
// not swept; Sweep only releases their memory.
func (b *Buffered[T, R, I, K]) Sweep() {
	b.cache.DeleteExpired()
}

// Passes returns the current number of hits allowed between recomputes.
func (b *Buffered[T, R, I, K]) Passes() int {
	return b.stab.currentPasses()
}

// Stats returns cache and refresh counters.
func (b *Buffered[T, R, I, K]) Stats() BufferedStats {
	return BufferedStats{
		Hits:            b.hits.Load(),
		Misses:          b.misses.Load(),
		Refreshes:       b.refreshes.Load(),
		RefreshFailures: b.refreshFailures.Load(),
		RefreshesMerged: b.refreshesMerged.Load(),
		Evictions:       b.evictions.Load(),
		Passes:          b.stab.currentPasses(),
		Entries:         b.cache.Len(),
	}
}
