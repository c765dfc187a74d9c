package event

import "sync/atomic"

// Cell holds the most recent result of an event. It is written by one
// goroutine at a time and read by any number.
type Cell[R any] struct {
	v atomic.Pointer[R]
}

// Store replaces the held result.
func (c *Cell[R]) Store(r R) {
	c.v.Store(&r)
}

// Load returns the held result and whether one has been stored.
func (c *Cell[R]) Load() (R, bool) {
	p := c.v.Load()
	if p == nil {
		var zero R
		return zero, false
	}
	return *p, true
}
