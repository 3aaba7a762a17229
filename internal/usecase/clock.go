package usecase

import (
	"sync/atomic"
	"time"
)

// Clock hands out update timestamps. Every call returns a UTC instant with
// microsecond precision strictly later than the previous one, even when the
// wall clock stalls or steps backwards.
//
// The ordering holds per Clock, and so per process. Processes sharing one
// backend, such as several Lambda containers, each keep their own Clock; a
// record written last by a process whose wall clock runs behind can carry an
// older updated_at than the value it replaced. Writes stay last-writer-wins
// at the backend either way.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock reading the system wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockFunc returns a Clock reading now. Tests use it to pin time.
func NewClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the next timestamp.
func (c *Clock) Now() time.Time {
	for {
		prev := c.last.Load()
		next := c.now().UnixMicro()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return time.UnixMicro(next).UTC()
		}
	}
}
