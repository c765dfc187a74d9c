package event

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recode/internal/mainthread"
	"github.com/dshills/recode/internal/module"
)

type lookup struct {
	Key  string
	Hint int
}

// counting returns a derivation that yields how many times it has run.
func counting() (func(string) (int, error), *atomic.Int64) {
	var n atomic.Int64
	return func(string) (int, error) {
		return int(n.Add(1)), nil
	}, &n
}

func lookupConfig(owner module.Module, interval time.Duration) BufferedConfig[string, lookup, string] {
	return BufferedConfig[string, lookup, string]{
		StableInterval:   interval,
		KeySelector:      func(in lookup) string { return in.Key },
		ContextGenerator: func(in lookup) string { return in.Key },
		CacheDuration:    time.Minute,
		Owner:            owner,
	}
}

func TestNewBufferedValidation(t *testing.T) {
	derive, _ := counting()
	loop := mainthread.New()

	cfg := lookupConfig(nil, 0)
	_, err := NewBuffered[string, int](loop, derive, cfg)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	cfg = lookupConfig(nil, time.Second)
	cfg.CacheDuration = -time.Second
	_, err = NewBuffered[string, int](loop, derive, cfg)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	cfg = lookupConfig(nil, time.Second)
	cfg.KeySelector = nil
	_, err = NewBuffered[string, int](loop, derive, cfg)
	assert.ErrorIs(t, err, ErrNilSelector)

	cfg = lookupConfig(nil, time.Second)
	cfg.CacheDuration = 0
	b, err := NewBuffered[string, int](loop, derive, cfg)
	require.NoError(t, err)
	assert.NotNil(t, b.Owner(), "a private owner is created")
	assert.True(t, b.Owner().IsEnabled())
}

func TestBufferedStabilizerScenario(t *testing.T) {
	loop := startLoop(t)
	clock := newFakeClock()
	owner := module.New("owner", module.Enabled())
	derive, computed := counting()

	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second), WithClock(clock.Now))
	require.NoError(t, err)

	b.Calibrate()
	clock.Advance(50 * time.Millisecond)
	b.Calibrate()
	require.Equal(t, 20, b.Passes())

	ctx := context.Background()
	in := lookup{Key: "spawn"}

	first, err := b.Run(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 1, first)

	for i := 1; i <= 19; i++ {
		got, err := b.Run(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first, got, "hit %d returns the cached value", i)
	}
	assert.Equal(t, uint64(0), b.Stats().Refreshes, "no refresh before passes hits")

	got, err := b.Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first, got, "the refreshing hit still returns the stale value")
	assert.Equal(t, uint64(1), b.Stats().Refreshes)

	owner.Wait()
	assert.Equal(t, int64(2), computed.Load())

	got, err = b.Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 2, got, "the next hit sees the refreshed value")

	prev, ok := b.Previous()
	require.True(t, ok)
	assert.Equal(t, 2, prev)
}

func TestStabilizerConverges(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		cadence  time.Duration
		want     int
	}{
		{"fast ticks", time.Second, 50 * time.Millisecond, 20},
		{"slower ticks", time.Second, 100 * time.Millisecond, 10},
		{"uneven division", time.Second, 300 * time.Millisecond, 3},
		{"tick slower than interval", time.Second, 5 * time.Second, 1},
		{"same instant", time.Second, 0, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := newStabilizer(tt.interval, clock.Now)

			for i := 0; i < 200; i++ {
				s.calibrate()
				clock.Advance(tt.cadence)
			}
			assert.Equal(t, tt.want, s.currentPasses())
		})
	}
}

func TestStabilizerAdaptsToNewCadence(t *testing.T) {
	clock := newFakeClock()
	s := newStabilizer(time.Second, clock.Now)

	for i := 0; i < 100; i++ {
		s.calibrate()
		clock.Advance(50 * time.Millisecond)
	}
	require.Equal(t, 20, s.currentPasses())

	for i := 0; i < 100; i++ {
		s.calibrate()
		clock.Advance(250 * time.Millisecond)
	}
	assert.Equal(t, 4, s.currentPasses())
}

func TestStabilizerHitCycle(t *testing.T) {
	clock := newFakeClock()
	s := newStabilizer(time.Second, clock.Now)
	s.calibrate()
	clock.Advance(250 * time.Millisecond)
	s.calibrate()
	require.Equal(t, 4, s.currentPasses())

	var due []bool
	for i := 0; i < 8; i++ {
		due = append(due, s.hit())
	}
	assert.Equal(t, []bool{false, false, false, true, false, false, false, true}, due)
}

func TestBufferedTTLEviction(t *testing.T) {
	loop := startLoop(t)
	derive, computed := counting()

	cfg := lookupConfig(module.New("owner", module.Enabled()), time.Hour)
	cfg.CacheDuration = 20 * time.Millisecond
	b, err := NewBuffered[string, int](loop, derive, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = b.Run(ctx, lookup{Key: "a"})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	got, err := b.Run(ctx, lookup{Key: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, got, "an expired entry forces a recompute")
	assert.Equal(t, int64(2), computed.Load())
	assert.Equal(t, uint64(2), b.Stats().Misses)

	time.Sleep(60 * time.Millisecond)
	b.Sweep()
	assert.Equal(t, 0, b.Stats().Entries)
	assert.Eventually(t, func() bool { return b.Stats().Evictions >= 1 }, time.Second, 5*time.Millisecond)
}

func TestBufferedKeysAreIndependent(t *testing.T) {
	loop := startLoop(t)
	derive, _ := counting()
	// A disabled owner keeps background refreshes out of the picture.
	b, err := NewBuffered[string, int](loop, derive, lookupConfig(module.New("owner"), time.Hour))
	require.NoError(t, err)

	ctx := context.Background()
	a, err := b.Run(ctx, lookup{Key: "a", Hint: 1})
	require.NoError(t, err)
	c, err := b.Run(ctx, lookup{Key: "c"})
	require.NoError(t, err)
	again, err := b.Run(ctx, lookup{Key: "a", Hint: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, c)
	assert.Equal(t, a, again, "inputs with the same key share an entry")
	assert.Equal(t, 2, b.Stats().Entries)

	b.Invalidate("a")
	fresh, err := b.Run(ctx, lookup{Key: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, fresh)
}

func TestBufferedRefreshFailureKeepsStaleValue(t *testing.T) {
	loop := startLoop(t)
	owner := module.New("owner", module.Enabled())

	var calls atomic.Int64
	errBackend := errors.New("backend unavailable")
	derive := func(string) (int, error) {
		if calls.Add(1) > 1 {
			return 0, errBackend
		}
		return 100, nil
	}

	// No calibration: passes stays 1, so every hit refreshes.
	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)

	got, err := b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, 100, got)
	owner.Wait()

	got, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, 100, got, "a failed refresh keeps the cached value")
	owner.Wait()

	assert.Equal(t, uint64(2), b.Stats().RefreshFailures)
}

func TestBufferedDisabledOwnerSkipsRefresh(t *testing.T) {
	loop := startLoop(t)
	owner := module.New("owner", module.Enabled())
	derive, computed := counting()

	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)

	owner.Disable()
	for i := 0; i < 3; i++ {
		got, err := b.Run(ctx, lookup{Key: "k"})
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	}

	assert.Equal(t, int64(1), computed.Load(), "no recompute runs while the owner is disabled")
	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.Refreshes)
	assert.Equal(t, uint64(0), stats.RefreshesMerged, "a skipped refresh does not stay in flight")
}

func TestBufferedOneRefreshInFlightPerKey(t *testing.T) {
	loop := startLoop(t)
	owner := module.New("owner", module.Enabled())

	gate := make(chan struct{})
	var calls atomic.Int64
	derive := func(string) (int, error) {
		n := calls.Add(1)
		if n > 1 {
			<-gate
		}
		return int(n), nil
	}

	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)

	// Both hits are due a refresh; only the first may start one.
	_, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)
	_, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)

	close(gate)
	owner.Wait()

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Refreshes)
	assert.Equal(t, uint64(1), stats.RefreshesMerged)
	assert.Equal(t, int64(2), calls.Load())
}

func (b *Buffered[T, R, I, K]) inflightLen() int {
	b.inflightMu.Lock()
	defer b.inflightMu.Unlock()
	return len(b.inflight)
}

func TestBufferedOwnerDisabledDuringRefresh(t *testing.T) {
	loop := startLoop(t)
	owner := module.New("owner", module.Enabled())

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	derive := func(string) (int, error) {
		n := calls.Add(1)
		if n == 2 {
			close(started)
			<-release
		}
		return int(n), nil
	}

	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)

	// Passes is 1, so this hit starts a refresh.
	got, err := b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)
	require.Equal(t, 1, got)
	<-started

	owner.Disable()
	owner.Wait()
	close(release)
	require.NoError(t, loop.Call(ctx, func(context.Context) error { return nil }))

	assert.Equal(t, 0, b.inflightLen(), "a cancelled refresh leaves no in-flight entry")
	assert.Equal(t, uint64(0), b.Stats().RefreshFailures, "cancellation is not a failure")

	got, err = b.Run(ctx, lookup{Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1, got, "the cached value stays stale")
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 0, b.inflightLen())
}

func TestBufferedListenEachDependsOnOwner(t *testing.T) {
	loop := startLoop(t)
	owner := module.New("owner", module.Enabled())
	derive, _ := counting()
	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second))
	require.NoError(t, err)

	m := module.New("listener", module.Enabled())
	seen := make(chan string, 1)
	ListenEach[string](b, m, func(_ context.Context, key string) { seen <- key })

	deps := m.Dependencies()
	require.Len(t, deps, 1)
	assert.Equal(t, owner.ID(), deps[0].ID())

	_, err = b.Run(context.Background(), lookup{Key: "a"})
	require.NoError(t, err)
	select {
	case key := <-seen:
		assert.Equal(t, "a", key)
	default:
		t.Fatal("reaction did not run before Run returned")
	}
}

func TestBufferedNotificationsDependOnOwner(t *testing.T) {
	loop := startLoop(t)
	owner := module.New("owner", module.Enabled())
	derive, _ := counting()
	b, err := NewBuffered[string, int](loop, derive, lookupConfig(owner, time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := module.New("subscriber")
	values := b.Notifications(ctx, sub)

	deps := sub.Dependencies()
	require.Len(t, deps, 1)
	assert.Equal(t, owner.ID(), deps[0].ID())

	_, err = b.Run(ctx, lookup{Key: "a"})
	require.NoError(t, err)
	v, ok := receive(t, values)
	require.True(t, ok)
	assert.Equal(t, "a", v, "a miss broadcasts the generated context")
}
