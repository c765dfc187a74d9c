package app

import (
	"sync/atomic"
	"time"
)

// Metrics tracks client tick timing and chat throughput.
type Metrics struct {
	tickCount   atomic.Uint64
	tickTotalNs atomic.Int64
	tickMinNs   atomic.Int64
	tickMaxNs   atomic.Int64
	lastTickNs  atomic.Int64
	tickErrors  atomic.Uint64

	chatCount    atomic.Uint64
	chatHandled  atomic.Uint64
	stateChanges atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
	}
	m.tickMinNs.Store(1<<63 - 1)
	return m
}

// RecordTick records the duration of one client tick.
func (m *Metrics) RecordTick(d time.Duration) {
	ns := d.Nanoseconds()

	m.tickCount.Add(1)
	m.tickTotalNs.Add(ns)
	m.lastTickNs.Store(ns)

	for {
		old := m.tickMinNs.Load()
		if ns >= old || m.tickMinNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.tickMaxNs.Load()
		if ns <= old || m.tickMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordTickError records a tick whose work failed.
func (m *Metrics) RecordTickError() {
	m.tickErrors.Add(1)
}

// RecordChat records a received chat message and whether it changed state.
func (m *Metrics) RecordChat(handled bool) {
	m.chatCount.Add(1)
	if handled {
		m.chatHandled.Add(1)
	}
}

// RecordStateChange records a committed state change.
func (m *Metrics) RecordStateChange() {
	m.stateChanges.Add(1)
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	count := m.tickCount.Load()

	var avg int64
	if count > 0 {
		avg = m.tickTotalNs.Load() / int64(count)
	}
	minNs := m.tickMinNs.Load()
	if minNs == 1<<63-1 {
		minNs = 0
	}

	return MetricsSnapshot{
		Uptime:       time.Since(m.startTime),
		Ticks:        count,
		AvgTick:      time.Duration(avg),
		MinTick:      time.Duration(minNs),
		MaxTick:      time.Duration(m.tickMaxNs.Load()),
		LastTick:     time.Duration(m.lastTickNs.Load()),
		TickErrors:   m.tickErrors.Load(),
		Chats:        m.chatCount.Load(),
		ChatsHandled: m.chatHandled.Load(),
		StateChanges: m.stateChanges.Load(),
	}
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime       time.Duration
	Ticks        uint64
	AvgTick      time.Duration
	MinTick      time.Duration
	MaxTick      time.Duration
	LastTick     time.Duration
	TickErrors   uint64
	Chats        uint64
	ChatsHandled uint64
	StateChanges uint64
}

// TicksPerSecond returns the average tick rate over the uptime.
func (s MetricsSnapshot) TicksPerSecond() float64 {
	if s.Uptime <= 0 {
		return 0
	}
	return float64(s.Ticks) / s.Uptime.Seconds()
}
