package event

import (
	"sync"
	"time"
)

// stabilizer decides how many cache hits may pass between recomputes so
// that a key is refreshed about once per interval, whatever the hit rate.
//
// calibrate advances passIndex once per external tick. Every passes ticks
// it measures the time since the previous tick and sets passes to the
// number of ticks that fit into interval. hit advances runIndex and reports
// when it reaches passes.
type stabilizer struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time

	passes    int
	passIndex int
	runIndex  int
	prevStamp time.Time
}

func newStabilizer(interval time.Duration, now func() time.Time) *stabilizer {
	return &stabilizer{
		interval:  interval,
		now:       now,
		passes:    1,
		passIndex: -1,
	}
}

func (s *stabilizer) calibrate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.passIndex++
	if s.passIndex >= s.passes {
		elapsed := now.Sub(s.prevStamp).Milliseconds()
		if elapsed < 1 {
			elapsed = 1
		}
		s.passes = int(s.interval.Milliseconds() / elapsed)
		// A tick slower than the interval would otherwise yield zero passes
		// and a recompute on every hit.
		if s.passes < 1 {
			s.passes = 1
		}
		s.passIndex = 0
	}
	s.runIndex = s.passIndex
	s.prevStamp = now
}

// hit records a cache hit and reports whether a recompute is due.
func (s *stabilizer) hit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runIndex++
	if s.runIndex >= s.passes {
		s.runIndex = 0
		return true
	}
	return false
}

func (s *stabilizer) currentPasses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}
